package snapshot_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder/snapshot"
)

func parse(t *testing.T, fragment string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(fragment))
	require.NoError(t, err)
	return doc
}

func find(t *testing.T, doc *html.Node, xpath string) *html.Node {
	t.Helper()
	node := htmlquery.FindOne(doc, xpath)
	require.NotNil(t, node, "no node for %s", xpath)
	return node
}

func TestStructuralPath(t *testing.T) {
	doc := parse(t, `<html><body>
        <div id="main"><button>One</button></div>
        <div><span></span><span class="x"></span></div>
    </body></html>`)

	tests := []struct {
		name  string
		xpath string
		want  string
	}{
		{"id shortcut", `//div[@id='main']`, "#main"},
		{"nested path", `//div[@id='main']/button`, "html > body > div > button"},
		{"sibling ordinal", `//span[@class='x']`, "html > body > div:nth-of-type(2) > span:nth-of-type(2)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, snapshot.StructuralPath(find(t, doc, tc.xpath)))
		})
	}
}

func TestIsVisible(t *testing.T) {
	doc := parse(t, `<html><body>
        <button id="shown">ok</button>
        <button id="gone" hidden>no</button>
        <div style="display: none"><button id="inherited">no</button></div>
        <input id="secret" type="hidden" name="csrf">
        <span id="invis" style="visibility:hidden">no</span>
    </body></html>`)

	assert.True(t, snapshot.IsVisible(find(t, doc, `//*[@id='shown']`)))
	assert.False(t, snapshot.IsVisible(find(t, doc, `//*[@id='gone']`)))
	assert.False(t, snapshot.IsVisible(find(t, doc, `//*[@id='inherited']`)))
	assert.False(t, snapshot.IsVisible(find(t, doc, `//*[@id='secret']`)))
	assert.False(t, snapshot.IsVisible(find(t, doc, `//*[@id='invis']`)))
}

func TestIsClickable(t *testing.T) {
	doc := parse(t, `<html><body>
        <button id="btn">ok</button>
        <button id="off" disabled>no</button>
        <div id="rolebtn" role="button">go</div>
        <div id="plain">text</div>
        <a id="link" href="/x">x</a>
        <a id="noptr" href="/y" style="pointer-events: none">y</a>
    </body></html>`)

	assert.True(t, snapshot.IsClickable(find(t, doc, `//*[@id='btn']`)))
	assert.False(t, snapshot.IsClickable(find(t, doc, `//*[@id='off']`)))
	assert.True(t, snapshot.IsClickable(find(t, doc, `//*[@id='rolebtn']`)))
	assert.False(t, snapshot.IsClickable(find(t, doc, `//*[@id='plain']`)))
	assert.True(t, snapshot.IsClickable(find(t, doc, `//*[@id='link']`)))
	assert.False(t, snapshot.IsClickable(find(t, doc, `//*[@id='noptr']`)))
}

func TestFormContents_ExcludesPasswords(t *testing.T) {
	doc := parse(t, `<html><body><form>
        <input name="user" value="alice">
        <input name="pw" type="password" value="hunter2">
        <input name="opt" type="checkbox" value="yes" checked>
        <input name="unchecked" type="checkbox" value="no">
        <textarea name="bio">hello there</textarea>
        <select name="color">
            <option value="red">Red</option>
            <option value="blue" selected>Blue</option>
        </select>
    </form></body></html>`)

	contents := snapshot.FormContents(doc)
	require.NotNil(t, contents)

	assert.Equal(t, "alice", contents["user"])
	assert.Equal(t, "yes", contents["opt"])
	assert.Equal(t, "hello there", contents["bio"])
	assert.Equal(t, "blue", contents["color"])
	assert.NotContains(t, contents, "pw")
	assert.NotContains(t, contents, "unchecked")
}

func TestValidationErrors(t *testing.T) {
	doc := parse(t, `<html><body><form>
        <input name="email" required>
        <input name="name" required value="bob">
        <input name="age" aria-invalid="true" value="-3">
    </form></body></html>`)

	errs := snapshot.ValidationErrors(doc)
	assert.ElementsMatch(t, []schemas.ValidationError{
		{Field: "email", Message: "value missing"},
		{Field: "age", Message: "marked invalid"},
	}, errs)
}

func TestVisibleErrors(t *testing.T) {
	doc := parse(t, `<html><body>
        <div class="error">Payment failed</div>
        <div class="error" hidden>stale error</div>
        <p role="alert">Try again later</p>
        <span class="invalid-feedback">Payment failed</span>
    </body></html>`)

	errs := snapshot.VisibleErrors(doc)
	// Hidden entries are skipped and duplicate text is collapsed.
	assert.ElementsMatch(t, []string{"Payment failed", "Try again later"}, errs)
}

func TestSurroundingText_Bounded(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 50)
	doc := parse(t, `<html><body><div><p>`+long+`</p><button id="b">go</button></div></body></html>`)

	text := snapshot.SurroundingText(find(t, doc, `//*[@id='b']`), 40)
	assert.LessOrEqual(t, len(text), 40)
	assert.True(t, strings.HasPrefix(text, "lorem ipsum"))
}

func TestSurroundingText_KeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("日本語のテスト ", 20)
	doc := parse(t, `<html><body><div><p>`+long+`</p><button id="b">go</button></div></body></html>`)

	for limit := 1; limit <= 12; limit++ {
		text := snapshot.SurroundingText(find(t, doc, `//*[@id='b']`), limit)
		assert.LessOrEqual(t, len(text), limit)
		assert.True(t, utf8.ValidString(text), "limit %d split a rune: %q", limit, text)
	}
}

func TestAriaLabel(t *testing.T) {
	doc := parse(t, `<html><body>
        <input id="a" aria-label="Search terms">
        <label for="b">Email address</label><input id="b">
        <label>Remember me <input id="c" type="checkbox"></label>
        <input id="d">
    </body></html>`)

	assert.Equal(t, "Search terms", snapshot.AriaLabel(doc, find(t, doc, `//*[@id='a']`)))
	assert.Equal(t, "Email address", snapshot.AriaLabel(doc, find(t, doc, `//*[@id='b']`)))
	assert.Equal(t, "Remember me", snapshot.AriaLabel(doc, find(t, doc, `//*[@id='c']`)))
	assert.Empty(t, snapshot.AriaLabel(doc, find(t, doc, `//*[@id='d']`)))
}

func TestParentContext(t *testing.T) {
	doc := parse(t, `<html><body>
        <form id="checkout"><button id="pay">Pay</button></form>
        <nav class="topbar primary"><a id="home" href="/">Home</a></nav>
        <div><span id="loose">x</span></div>
    </body></html>`)

	assert.Equal(t, "form#checkout", snapshot.ParentContext(find(t, doc, `//*[@id='pay']`)))
	assert.Equal(t, "nav.topbar", snapshot.ParentContext(find(t, doc, `//*[@id='home']`)))
	assert.Empty(t, snapshot.ParentContext(find(t, doc, `//*[@id='loose']`)))
}

func TestLoadingIndicators(t *testing.T) {
	doc := parse(t, `<html><body>
        <div class="spinner"></div>
        <div class="loading" hidden></div>
        <section aria-busy="true"></section>
    </body></html>`)

	assert.Equal(t, 2, snapshot.LoadingIndicators(doc))
}

func TestCaptureState(t *testing.T) {
	doc := parse(t, `<html><head><title> Checkout </title></head><body>
        <form><input name="qty" value="2"></form>
    </body></html>`)

	state := snapshot.CaptureState(doc, snapshot.PageMeta{
		URL:     "https://shop.test/cart",
		ScrollY: 120,
		Viewport: schemas.Viewport{
			Width: 1280, Height: 720,
		},
	})

	assert.Equal(t, "https://shop.test/cart", state.URL)
	assert.Equal(t, "Checkout", state.Title)
	assert.Equal(t, map[string]string{"qty": "2"}, state.FormData)
	assert.Equal(t, 120.0, state.ScrollY)
	assert.False(t, state.Timestamp.IsZero())
}

func TestNilDocumentIsHarmless(t *testing.T) {
	assert.Nil(t, snapshot.FormContents(nil))
	assert.Nil(t, snapshot.ValidationErrors(nil))
	assert.Nil(t, snapshot.VisibleErrors(nil))
	assert.Zero(t, snapshot.LoadingIndicators(nil))
	assert.Zero(t, snapshot.ElementCount(nil))
	assert.Empty(t, snapshot.StructuralPath(nil))
}
