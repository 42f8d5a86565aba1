package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// The transport drives the page exclusively through Runtime.evaluate with
// small self-contained expressions. Each returns a JSON-serializable value
// so results come back by value over the control channel.

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	return strconv.Quote(s)
}

func jsStringList(sels []string) string {
	quoted := make([]string, len(sels))
	for i, s := range sels {
		quoted[i] = jsString(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// resolveInputScript reports whether sel matches an existing, interactable
// element.
func resolveInputScript(sel string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el || el.disabled) return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
})()`, jsString(sel))
}

// countScript counts the elements matching sel.
func countScript(sel string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(sel))
}

// busyScript reports whether any of the stop/busy indicator candidates is
// present.
func busyScript(sels []string) string {
	return fmt.Sprintf(`%s.some((s) => document.querySelector(s) !== null)`, jsStringList(sels))
}

// commitPromptScript writes the prompt into the input element. Native inputs
// need the prototype value setter so framework-managed state notices the
// change; contenteditable surfaces take innerText.
func commitPromptScript(sel, prompt string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.focus();
	const tag = el.tagName;
	if (tag === 'TEXTAREA' || tag === 'INPUT') {
		const proto = tag === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		Object.getOwnPropertyDescriptor(proto, 'value').set.call(el, %s);
	} else {
		el.innerText = %s;
	}
	el.dispatchEvent(new InputEvent('input', {bubbles: true}));
	return true;
})()`, jsString(sel), jsString(prompt), jsString(prompt))
}

// clickScript clicks the element matching sel if it is present and enabled.
func clickScript(sel string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el || el.disabled) return false;
	const r = el.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return false;
	el.click();
	return true;
})()`, jsString(sel))
}

// pressEnterScript dispatches a commit key-press on the input element. Used
// as the last resort when no send control candidate resolves.
func pressEnterScript(sel string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	const opts = {key: 'Enter', code: 'Enter', keyCode: 13, which: 13, bubbles: true, cancelable: true};
	el.dispatchEvent(new KeyboardEvent('keydown', opts));
	el.dispatchEvent(new KeyboardEvent('keyup', opts));
	return true;
})()`, jsString(sel))
}

// extractScript reads the newest response container and pulls the content
// element matching contentSel out of it. Returns null when the content
// candidate does not resolve.
func extractScript(containerSel, contentSel string) string {
	return fmt.Sprintf(`(() => {
	const els = document.querySelectorAll(%s);
	if (els.length === 0) return null;
	const last = els[els.length - 1];
	const c = last.querySelector(%s);
	if (!c) return null;
	return {text: c.innerText || '', html: c.innerHTML || ''};
})()`, jsString(containerSel), jsString(contentSel))
}

// containerTextScript is the extraction fallback: the full text of the
// newest response container.
func containerTextScript(containerSel string) string {
	return fmt.Sprintf(`(() => {
	const els = document.querySelectorAll(%s);
	if (els.length === 0) return null;
	const last = els[els.length - 1];
	return {text: last.innerText || '', html: last.innerHTML || ''};
})()`, jsString(containerSel))
}
