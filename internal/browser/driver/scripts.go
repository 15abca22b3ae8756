// internal/browser/driver/scripts.go
package driver

// In-page helpers. Each is a function expression called with
// Runtime.callFunctionOn on the frame's document in its main world, so
// `document` always refers to the frame's own document.

// QueryOneJS resolves a CSS selector or a "//"-prefixed XPath expression to
// its first match under root (the document when root is absent). It is
// exported so callers can compose it into their own scripts.
const QueryOneJS = `function(sel, root) {
	root = root || document;
	if (sel.startsWith('//')) {
		return document.evaluate(sel, root, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	}
	return root.querySelector(sel);
}`

// QueryAllJS resolves every match in document order, as an array.
const QueryAllJS = `function(sel, root) {
	root = root || document;
	if (sel.startsWith('//')) {
		const snap = document.evaluate(sel, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < snap.snapshotLength; i++) out.push(snap.snapshotItem(i));
		return out;
	}
	return Array.from(root.querySelectorAll(sel));
}`

// jsWaitSelector returns the first match, or null when there is none or a
// visible match was requested and the element is not rendered.
const jsWaitSelector = `function(sel, visible) {
	const query = ` + QueryOneJS + `;
	const el = query(sel);
	if (!el) return null;
	if (!visible) return el;
	if (el.nodeType !== Node.ELEMENT_NODE) return el;
	const style = el.ownerDocument.defaultView.getComputedStyle(el);
	if (!style || style.visibility === 'hidden' || style.display === 'none') return null;
	const rect = el.getBoundingClientRect();
	return rect.width > 0 && rect.height > 0 ? el : null;
}`

// jsArrayLength and jsArrayItem split an array result into element handles.
const jsArrayLength = `function() { return Array.from(this).length; }`
const jsArrayItem = `function(i) { return Array.from(this)[i] || null; }`

const jsSimulatedClick = `function() {
	const view = this.ownerDocument.defaultView;
	this.dispatchEvent(new view.MouseEvent('click', { bubbles: true, cancelable: true, view: view }));
}`

const jsScrollIntoView = `function() {
	if (this.scrollIntoView) this.scrollIntoView({ block: 'center', inline: 'center' });
}`

const jsFocus = `function() { if (this.focus) this.focus(); }`
