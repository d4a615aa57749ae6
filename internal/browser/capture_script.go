// File: internal/browser/capture_script.go
package browser

// bindingName is the CDP runtime binding the capture script emits events
// through. Runtime.bindingCalled events carrying this name are routed to the
// page's event stream.
const bindingName = "__webtraceEmit"

// indicatorID is the DOM id of the on-page recording indicator.
const indicatorID = "__webtrace_indicator"

// captureScript installs capture-phase listeners for the four interaction
// types at the document root, so events are observed before any in-page
// handler can stop propagation. Installation is idempotent; listeners stay
// inert while window.__webtraceActive is false, so "stop" only needs to flip
// the flag and remove the indicator.
const captureScript = `
(() => {
  if (window.__webtraceInstalled) {
    window.__webtraceActive = true;
    return;
  }
  window.__webtraceInstalled = true;
  window.__webtraceActive = true;

  const xpathOf = (el) => {
    if (!el || el.nodeType !== 1) return '';
    const parts = [];
    for (let cur = el; cur && cur.nodeType === 1; cur = cur.parentNode) {
      let ord = 1;
      for (let sib = cur.previousSibling; sib; sib = sib.previousSibling) {
        if (sib.nodeType === 1 && sib.nodeName === cur.nodeName) ord++;
      }
      parts.unshift(cur.nodeName.toLowerCase() + '[' + ord + ']');
    }
    return '/' + parts.join('/');
  };

  const emit = (type, ev) => {
    if (!window.__webtraceActive) return;
    const target = ev.target;
    let value = '';
    if (target && 'value' in target && target.type !== 'password') {
      value = String(target.value);
    }
    const payload = {
      type: type,
      xpath: xpathOf(target),
      value: value,
      x: typeof ev.clientX === 'number' ? ev.clientX : 0,
      y: typeof ev.clientY === 'number' ? ev.clientY : 0
    };
    try { window.` + bindingName + `(JSON.stringify(payload)); } catch (e) {}
  };

  document.addEventListener('click', (ev) => emit('click', ev), true);
  document.addEventListener('input', (ev) => emit('input', ev), true);
  document.addEventListener('change', (ev) => emit('change', ev), true);
  document.addEventListener('submit', (ev) => emit('submit', ev), true);
})();
`

// indicatorScript renders the visible recording indicator.
const indicatorScript = `
(() => {
  if (document.getElementById('` + indicatorID + `')) return;
  const el = document.createElement('div');
  el.id = '` + indicatorID + `';
  el.textContent = 'REC';
  el.style.cssText = 'position:fixed;top:8px;right:8px;z-index:2147483647;' +
    'background:#d32f2f;color:#fff;font:bold 11px sans-serif;' +
    'padding:3px 8px;border-radius:10px;pointer-events:none;opacity:.85;';
  const attach = () => { if (document.body) document.body.appendChild(el); };
  if (document.body) attach();
  else document.addEventListener('DOMContentLoaded', attach, { once: true });
})();
`

// removeScript deactivates capture and removes the indicator. Idempotent.
const removeScript = `
(() => {
  window.__webtraceActive = false;
  const el = document.getElementById('` + indicatorID + `');
  if (el && el.parentNode) el.parentNode.removeChild(el);
})();
`

// pageMetaScript collects the non-DOM page facts in one round trip.
const pageMetaScript = `
JSON.stringify({
  url: window.location.href,
  title: document.title,
  scrollX: window.scrollX,
  scrollY: window.scrollY,
  width: window.innerWidth,
  height: window.innerHeight
})
`

// loadDurationScript reports the last navigation's duration in milliseconds,
// or 0 when timing data is unavailable.
const loadDurationScript = `
(() => {
  const nav = performance.getEntriesByType('navigation')[0];
  if (nav && nav.loadEventEnd > 0) return Math.round(nav.loadEventEnd - nav.startTime);
  return 0;
})()
`

// elementBoundsScript resolves an XPath and returns its bounding rectangle.
const elementBoundsScript = `
((xpath) => {
  const res = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
  const el = res.singleNodeValue;
  if (!el || !el.getBoundingClientRect) return JSON.stringify(null);
  const r = el.getBoundingClientRect();
  return JSON.stringify({ x: r.x, y: r.y, width: r.width, height: r.height });
})
`
