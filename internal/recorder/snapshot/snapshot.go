// File: internal/recorder/snapshot/snapshot.go

// Package snapshot computes page-state facts from a parsed DOM. Everything
// here is a pure function of the document (plus page metadata supplied by the
// backend); the package carries no state of its own.
package snapshot

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
)

// PageMeta carries the non-DOM facts about a page that only the live backend
// knows (address, scroll offsets, viewport geometry).
type PageMeta struct {
	URL      string
	Title    string
	ScrollX  float64
	ScrollY  float64
	Viewport schemas.Viewport
}

// errorSelectors is the fixed list used to find visibly error-styled
// elements.
var errorSelectors = []string{
	"//*[contains(@class,'error')]",
	"//*[contains(@class,'invalid-feedback')]",
	"//*[contains(@class,'field-error')]",
	"//*[contains(@class,'validation-error')]",
	"//*[@role='alert']",
}

// loadingSelectors matches common in-flight indicators.
var loadingSelectors = []string{
	"//*[contains(@class,'spinner')]",
	"//*[contains(@class,'loading')]",
	"//*[@aria-busy='true']",
	"//progress",
}

// CaptureState assembles a PageState snapshot from a parsed document and its
// metadata. The form-contents capture excludes password-typed fields.
func CaptureState(doc *html.Node, meta PageMeta) schemas.PageState {
	title := meta.Title
	if title == "" && doc != nil {
		if node := htmlquery.FindOne(doc, "//title"); node != nil {
			title = strings.TrimSpace(htmlquery.InnerText(node))
		}
	}
	return schemas.PageState{
		URL:       meta.URL,
		Title:     title,
		FormData:  FormContents(doc),
		ScrollX:   meta.ScrollX,
		ScrollY:   meta.ScrollY,
		Viewport:  meta.Viewport,
		Timestamp: time.Now(),
	}
}

// StructuralPath returns a locator for the element: an id shortcut when one
// exists, otherwise a root-to-element path of tag names with sibling
// ordinals.
func StructuralPath(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	if id := attrValue(n, "id"); id != "" {
		return "#" + id
	}

	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		segments = append([]string{segment(cur)}, segments...)
	}
	return strings.Join(segments, " > ")
}

// segment renders one path element as tag:nth-of-type(i) among same-tag
// siblings. The ordinal is omitted for the first match to keep paths short.
func segment(n *html.Node) string {
	ordinal := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == n.Data {
			ordinal++
		}
	}
	if ordinal == 1 {
		return n.Data
	}
	return fmt.Sprintf("%s:nth-of-type(%d)", n.Data, ordinal)
}

// Attributes extracts the element's attribute map.
func Attributes(n *html.Node) map[string]string {
	if n == nil || len(n.Attr) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	return attrs
}

// IsVisible reports whether the element is rendered at all. Without a layout
// engine this is attribute-driven: the hidden attribute, inline display/
// visibility styles, input type=hidden, and the same checks on every
// ancestor.
func IsVisible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if hasAttr(cur, "hidden") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(attrValue(cur, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
		if strings.EqualFold(cur.Data, "input") && strings.EqualFold(attrValue(cur, "type"), "hidden") {
			return false
		}
	}
	return n != nil && n.Type == html.ElementNode
}

// IsClickable reports whether the element can plausibly receive a click:
// visible, not disabled, pointer events not suppressed, and either an
// interactive tag or an explicit interactive affordance.
func IsClickable(n *html.Node) bool {
	if !IsVisible(n) {
		return false
	}
	if hasAttr(n, "disabled") {
		return false
	}
	style := strings.ToLower(strings.ReplaceAll(attrValue(n, "style"), " ", ""))
	if strings.Contains(style, "pointer-events:none") {
		return false
	}

	switch strings.ToLower(n.Data) {
	case "a", "button", "input", "select", "textarea", "label", "option", "summary":
		return true
	}
	if hasAttr(n, "onclick") || hasAttr(n, "tabindex") {
		return true
	}
	return strings.EqualFold(attrValue(n, "role"), "button") ||
		strings.EqualFold(attrValue(n, "role"), "link")
}

// SurroundingText extracts the text content around the element, bounded to
// limit characters. The search widens parent by parent until some text is
// found.
func SurroundingText(n *html.Node, limit int) string {
	if n == nil || limit <= 0 {
		return ""
	}
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		text := collapseWhitespace(htmlquery.InnerText(cur))
		if text != "" {
			if len(text) > limit {
				// Back up to a rune boundary so the cut never splits a
				// multi-byte character.
				cut := limit
				for cut > 0 && !utf8.RuneStart(text[cut]) {
					cut--
				}
				return text[:cut]
			}
			return text
		}
	}
	return ""
}

// AriaRole returns the element's explicit role attribute.
func AriaRole(n *html.Node) string {
	return attrValue(n, "role")
}

// AriaLabel resolves the accessible label: aria-label first, then a <label>
// bound via for=, then a wrapping <label>.
func AriaLabel(doc *html.Node, n *html.Node) string {
	if label := attrValue(n, "aria-label"); label != "" {
		return label
	}
	if doc != nil {
		if id := attrValue(n, "id"); id != "" {
			if label := htmlquery.FindOne(doc, fmt.Sprintf("//label[@for=%q]", id)); label != nil {
				return collapseWhitespace(htmlquery.InnerText(label))
			}
		}
	}
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && strings.EqualFold(cur.Data, "label") {
			return collapseWhitespace(htmlquery.InnerText(cur))
		}
	}
	return ""
}

// ParentContext summarizes the nearest structural ancestor (form, section,
// nav, main, article) so the log reads sensibly on its own.
func ParentContext(n *html.Node) string {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		switch strings.ToLower(cur.Data) {
		case "form", "section", "nav", "main", "article", "header", "footer", "dialog":
			desc := cur.Data
			if id := attrValue(cur, "id"); id != "" {
				desc += "#" + id
			} else if class := attrValue(cur, "class"); class != "" {
				desc += "." + strings.Fields(class)[0]
			}
			return desc
		}
	}
	return ""
}

// FormContents captures every named form-control value on the page, keyed by
// field name. Password-typed inputs are deliberately excluded.
func FormContents(doc *html.Node) map[string]string {
	if doc == nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(doc, "//input[@name] | //textarea[@name] | //select[@name]")
	if err != nil || len(nodes) == 0 {
		return nil
	}

	contents := make(map[string]string)
	for _, node := range nodes {
		name := attrValue(node, "name")
		switch strings.ToLower(node.Data) {
		case "input":
			inputType := strings.ToLower(attrValue(node, "type"))
			if inputType == "password" {
				continue
			}
			if inputType == "checkbox" || inputType == "radio" {
				if !hasAttr(node, "checked") {
					continue
				}
			}
			contents[name] = attrValue(node, "value")
		case "textarea":
			contents[name] = collapseWhitespace(htmlquery.InnerText(node))
		case "select":
			if opt := htmlquery.FindOne(node, ".//option[@selected]"); opt != nil {
				value := attrValue(opt, "value")
				if value == "" {
					value = collapseWhitespace(htmlquery.InnerText(opt))
				}
				contents[name] = value
			}
		}
	}
	if len(contents) == 0 {
		return nil
	}
	return contents
}

// ValidationErrors extracts fields currently failing built-in validation:
// required controls with no value, and anything flagged aria-invalid.
func ValidationErrors(doc *html.Node) []schemas.ValidationError {
	if doc == nil {
		return nil
	}
	var errs []schemas.ValidationError

	required, _ := htmlquery.QueryAll(doc, "//input[@required] | //textarea[@required] | //select[@required]")
	for _, node := range required {
		if controlValue(node) == "" {
			errs = append(errs, schemas.ValidationError{
				Field:   fieldName(node),
				Message: "value missing",
			})
		}
	}

	invalid, _ := htmlquery.QueryAll(doc, "//*[@aria-invalid='true']")
	for _, node := range invalid {
		errs = append(errs, schemas.ValidationError{
			Field:   fieldName(node),
			Message: "marked invalid",
		})
	}
	return errs
}

// VisibleErrors collects the text of visible error-styled elements via the
// fixed selector list.
func VisibleErrors(doc *html.Node) []string {
	if doc == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var errs []string
	for _, sel := range errorSelectors {
		nodes, err := htmlquery.QueryAll(doc, sel)
		if err != nil {
			continue
		}
		for _, node := range nodes {
			if !IsVisible(node) {
				continue
			}
			text := collapseWhitespace(htmlquery.InnerText(node))
			if text == "" {
				continue
			}
			if _, dup := seen[text]; dup {
				continue
			}
			seen[text] = struct{}{}
			errs = append(errs, text)
		}
	}
	return errs
}

// LoadingIndicators counts visible in-flight indicators on the page.
func LoadingIndicators(doc *html.Node) int {
	if doc == nil {
		return 0
	}
	count := 0
	for _, sel := range loadingSelectors {
		nodes, err := htmlquery.QueryAll(doc, sel)
		if err != nil {
			continue
		}
		for _, node := range nodes {
			if IsVisible(node) {
				count++
			}
		}
	}
	return count
}

// ElementCount returns the number of element nodes in the document, used to
// detect DOM growth between the before and after snapshots.
func ElementCount(doc *html.Node) int {
	if doc == nil {
		return 0
	}
	nodes, err := htmlquery.QueryAll(doc, "//*")
	if err != nil {
		return 0
	}
	return len(nodes)
}

func fieldName(n *html.Node) string {
	if name := attrValue(n, "name"); name != "" {
		return name
	}
	if id := attrValue(n, "id"); id != "" {
		return id
	}
	return n.Data
}

func controlValue(n *html.Node) string {
	if strings.EqualFold(n.Data, "textarea") {
		return strings.TrimSpace(htmlquery.InnerText(n))
	}
	if strings.EqualFold(n.Data, "select") {
		if opt := htmlquery.FindOne(n, ".//option[@selected]"); opt != nil {
			return attrValue(opt, "value")
		}
		return ""
	}
	return attrValue(n, "value")
}

func attrValue(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
