// internal/browser/navigator/scripts.go
package navigator

import (
	"github.com/xkilldash9x/steady/internal/browser/driver"
)

// jsSelectOption picks an option by label (preferred) or value. When nothing
// matches, the assignment to `selected` throws in the page.
const jsSelectOption = `function(el, label, value) {
	const clean = (s) => String(s == null ? '' : s).replace(/[^\x20-\x7E]/g, '');
	const options = Array.from(el.options || el.querySelectorAll('option'));
	const match = label
		? options.find((o) => clean(o.label || o.textContent) === clean(label))
		: options.find((o) => clean(o.value) === clean(value));
	match.selected = true;
	el.dispatchEvent(new Event('change', { bubbles: true }));
}`

const jsScrollPage = `function(direction) {
	const root = document.scrollingElement || document.documentElement;
	switch (direction) {
	case 'up': window.scrollBy(0, -window.innerHeight); break;
	case 'down': window.scrollBy(0, window.innerHeight); break;
	case 'top': window.scrollTo(0, 0); break;
	case 'bottom': window.scrollTo(0, root.scrollHeight); break;
	}
}`

const jsScrollIntoView = `function(el) {
	el.scrollIntoView({ block: 'center', inline: 'center' });
}`

// The builders below splice caller-supplied function expressions into a
// wrapper as source text; the resulting script is what crosses into the page.

// mapAllJS applies mapFn(el, index) to every match of a selector.
func mapAllJS(mapFn string) string {
	return `function(sel) {
	const query = ` + driver.QueryAllJS + `;
	const fn = (` + mapFn + `);
	return query(sel).map((el, i) => fn(el, i));
}`
}

// mapOneJS applies mapFn to the first match and reports whether there was one.
func mapOneJS(mapFn string) string {
	return `function(sel) {
	const query = ` + driver.QueryOneJS + `;
	const fn = (` + mapFn + `);
	const el = query(sel);
	if (!el) return { found: false };
	return { found: true, value: fn(el) };
}`
}

// findDescendantJS walks the descendants of root (the whole document when
// root is null) depth-first and returns the first one satisfying pred.
func findDescendantJS(pred string) string {
	return `function(root) {
	const pred = (` + pred + `);
	const walker = document.createTreeWalker(root || document, NodeFilter.SHOW_ELEMENT);
	for (let node = walker.nextNode(); node; node = walker.nextNode()) {
		if (pred(node)) return node;
	}
	return null;
}`
}

// childrenMatchingJS keeps the element children of parent for which the child
// or any node below it (text nodes included) satisfies pred. A predicate that
// throws on a node counts as not matching it.
func childrenMatchingJS(pred string) string {
	return `function(parent) {
	const pred = (` + pred + `);
	const test = (node) => { try { return !!pred(node); } catch (e) { return false; } };
	return Array.from(parent.children).filter((child) => {
		if (test(child)) return true;
		const walker = document.createTreeWalker(child, NodeFilter.SHOW_ALL);
		for (let node = walker.nextNode(); node; node = walker.nextNode()) {
			if (test(node)) return true;
		}
		return false;
	});
}`
}
