// internal/browser/locator.go
package browser

import (
	"fmt"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/gatewatch/internal/gateway"
)

// Resolver operations.
const (
	opCount   = "count"
	opText    = "text"
	opAttr    = "attr"
	opValue   = "value"
	opVisible = "visible"
	opTag     = "tag"
	opUntag   = "untag"
	opClick   = "click"
	opFill    = "fill"
	opFrames  = "frames"
)

const tagAttribute = "data-gatewatch"

// step is the wire form of one locator of a chain, root first.
type step struct {
	CSS     string `json:"css"`
	HasText string `json:"hasText,omitempty"`
	Nth     int    `json:"nth"`
	Frame   int    `json:"frame,omitempty"`
}

// probe is what the resolver returns for every operation.
type probe struct {
	Found   bool   `json:"found"`
	Count   int    `json:"count"`
	Text    string `json:"text"`
	OK      bool   `json:"ok"`
	InFrame bool   `json:"inFrame"`
}

// chainOf flattens loc into its steps, outermost parent first.
func chainOf(loc gateway.Locator) []step {
	var rev []step
	for l := &loc; l != nil; l = l.Parent {
		rev = append(rev, step{CSS: l.CSS, HasText: l.HasText, Nth: l.Nth, Frame: l.Frame})
	}
	chain := make([]step, len(rev))
	for i, s := range rev {
		chain[len(rev)-1-i] = s
	}
	return chain
}

// rootFrame is the document the chain is resolved in.
func rootFrame(loc gateway.Locator) int {
	l := &loc
	for l.Parent != nil {
		l = l.Parent
	}
	return l.Frame
}

// expression builds the JS call that runs op against loc.
func expression(loc gateway.Locator, op, arg string) (string, error) {
	chain, err := json.Marshal(chainOf(loc))
	if err != nil {
		return "", fmt.Errorf("failed to encode locator %s: %w", loc, err)
	}
	a, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("failed to encode argument: %w", err)
	}
	o, _ := json.Marshal(op)
	return fmt.Sprintf("(%s)(%s, %s, %s)", resolverJS, chain, o, a), nil
}

// resolverJS resolves a locator chain and applies one operation to the
// picked element. Same origin iframes are reachable through the root
// step's frame index; cross origin ones resolve to nothing.
const resolverJS = `function (chain, op, arg) {
  const out = {found: false, count: 0, text: "", ok: false, inFrame: false};
  if (op === "frames") {
    out.found = true;
    out.count = document.querySelectorAll("iframe").length;
    return out;
  }
  let doc = document;
  if (chain[0].frame > 0) {
    const f = document.querySelectorAll("iframe")[chain[0].frame - 1];
    try { doc = f ? f.contentDocument : null; } catch (e) { doc = null; }
    if (!doc) { return out; }
    out.inFrame = true;
  }
  const matchAll = (scope, s) => {
    let els = Array.from(scope.querySelectorAll(s.css));
    if (s.hasText) {
      els = els.filter(e => (e.innerText || e.textContent || "").includes(s.hasText));
    }
    return els;
  };
  let scope = doc;
  let els = [];
  for (let i = 0; i < chain.length; i++) {
    els = matchAll(scope, chain[i]);
    if (i < chain.length - 1) {
      scope = els[chain[i].nth];
      if (!scope) { return out; }
    }
  }
  out.count = els.length;
  if (op === "count") {
    out.found = true;
    return out;
  }
  const el = els[chain[chain.length - 1].nth];
  if (!el) { return out; }
  out.found = true;
  const win = el.ownerDocument.defaultView || window;
  switch (op) {
  case "text":
    out.text = el.innerText || el.textContent || "";
    break;
  case "attr": {
    const v = el.getAttribute(arg);
    out.ok = v !== null;
    out.text = v || "";
    break;
  }
  case "value":
    out.text = el.value === undefined ? "" : String(el.value);
    break;
  case "visible": {
    const st = win.getComputedStyle(el);
    out.ok = el.getClientRects().length > 0 && st.visibility !== "hidden" && st.display !== "none";
    break;
  }
  case "tag":
    el.setAttribute("` + tagAttribute + `", arg);
    break;
  case "untag":
    el.removeAttribute("` + tagAttribute + `");
    break;
  case "click":
    el.scrollIntoView({block: "center"});
    el.click();
    break;
  case "fill": {
    el.focus();
    const proto = el.tagName === "TEXTAREA" ? win.HTMLTextAreaElement.prototype : win.HTMLInputElement.prototype;
    Object.getOwnPropertyDescriptor(proto, "value").set.call(el, arg);
    el.dispatchEvent(new win.Event("input", {bubbles: true}));
    el.dispatchEvent(new win.Event("change", {bubbles: true}));
    out.text = el.value;
    break;
  }
  }
  return out;
}`

// dispatchJS fires input and change on a tagged element after SetValue, so
// framework bound forms see the new value.
const dispatchJS = `(() => {
  const el = document.querySelector(%s);
  if (!el) { return false; }
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return true;
})()`

func tagSelector(token string) string {
	return fmt.Sprintf("[%s=%q]", tagAttribute, token)
}
