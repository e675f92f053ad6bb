package registry

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bizkut/callsignscrapper/scraper"
)

var blockTitles = []string{"cloudflare", "attention required", "just a moment"}

var nextTexts = map[string]bool{
	"next":      true,
	"next page": true,
	">":         true,
	"»":         true,
	"›":         true,
	"next ›":    true,
	"next »":    true,
}

const pagerSelector = `.pagination, .pager, [class*="paging"]`

const activeSelector = `.active, .is-active, .current, [aria-current]`

var postBackRe = regexp.MustCompile(`__doPostBack\(\s*'([^']*)'\s*,\s*'([^']*)'\s*\)`)

// target is where a pagination control leads: either a plain link or an
// ASP.NET style form post back.
type target struct {
	href      *url.URL
	postBack  bool
	eventName string
	eventArg  string
}

func pageTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func looksBlocked(title string) bool {
	t := strings.ToLower(title)
	for _, s := range blockTitles {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}

// extractRows returns every table row with at least five cells whose first
// and third cells are not empty.
func extractRows(doc *goquery.Document) []scraper.RawRow {
	var rows []scraper.RawRow
	doc.Find("table tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() < 5 {
			return
		}
		cell := func(i int) string {
			return strings.TrimSpace(cells.Eq(i).Text())
		}
		row := scraper.RawRow{
			Ordinal:  cell(0),
			Holder:   cell(1),
			CallSign: cell(2),
			AssignNo: cell(3),
			Expiry:   cell(4),
		}
		if row.Ordinal == "" || row.CallSign == "" {
			return
		}
		rows = append(rows, row)
	})
	return rows
}

func linkText(s *goquery.Selection) string {
	return strings.ToLower(scraper.CollapseSpace(s.Text()))
}

// findNext locates the control leading to the page after the current one.
func findNext(doc *goquery.Document, base *url.URL) (target, bool) {
	if a := doc.Find(`a[rel="next"]`).First(); a.Length() > 0 {
		if t, ok := resolve(a, base); ok {
			return t, true
		}
	}

	var found target
	var ok bool
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !nextTexts[linkText(a)] {
			return true
		}
		found, ok = resolve(a, base)
		return !ok
	})
	if ok {
		return found, true
	}

	doc.Find(pagerSelector).EachWithBreak(func(_ int, pager *goquery.Selection) bool {
		active := pager.Find(activeSelector).First()
		if active.Length() == 0 {
			return true
		}
		sibling := active.Next()
		if sibling.Length() == 0 {
			sibling = active.Parent().Next()
		}
		a := sibling
		if !a.Is("a") {
			a = sibling.Find("a").First()
		}
		if a.Length() == 0 {
			return true
		}
		found, ok = resolve(a, base)
		return !ok
	})
	return found, ok
}

// findPageLink locates a pagination link labelled with the page number n.
func findPageLink(doc *goquery.Document, base *url.URL, n int) (target, bool) {
	want := strconv.Itoa(n)
	var found target
	var ok bool
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if scraper.CollapseSpace(a.Text()) != want {
			return true
		}
		found, ok = resolve(a, base)
		return !ok
	})
	return found, ok
}

func resolve(a *goquery.Selection, base *url.URL) (target, bool) {
	href, _ := a.Attr("href")
	href = strings.TrimSpace(href)
	if m := postBackRe.FindStringSubmatch(href); m != nil {
		return target{postBack: true, eventName: m[1], eventArg: m[2]}, true
	}
	if onclick, ok := a.Attr("onclick"); ok {
		if m := postBackRe.FindStringSubmatch(onclick); m != nil {
			return target{postBack: true, eventName: m[1], eventArg: m[2]}, true
		}
	}
	if href == "" || href == "#" || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return target{}, false
	}
	u, err := base.Parse(href)
	if err != nil {
		return target{}, false
	}
	return target{href: u}, true
}

// formSubmission describes an HTML form as the browser would send it.
type formSubmission struct {
	method string
	action *url.URL
	values url.Values
}

// buildForm collects the successful controls of form. submit, when not
// empty, is included as the activating button.
func buildForm(form *goquery.Selection, base *url.URL, submit *goquery.Selection) (formSubmission, error) {
	action := base
	if a, ok := form.Attr("action"); ok && strings.TrimSpace(a) != "" {
		u, err := base.Parse(strings.TrimSpace(a))
		if err != nil {
			return formSubmission{}, err
		}
		action = u
	}
	method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", "GET")))
	if method != "POST" {
		method = "GET"
	}

	values := url.Values{}
	form.Find("input").Each(func(_ int, in *goquery.Selection) {
		name, ok := in.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, disabled := in.Attr("disabled"); disabled {
			return
		}
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
			values.Add(name, in.AttrOr("value", "on"))
		default:
			values.Add(name, in.AttrOr("value", ""))
		}
	})
	form.Find("select").Each(func(_ int, sel *goquery.Selection) {
		name, ok := sel.Attr("name")
		if !ok || name == "" {
			return
		}
		opt := sel.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = sel.Find("option").First()
		}
		if opt.Length() == 0 {
			return
		}
		v, ok := opt.Attr("value")
		if !ok {
			v = strings.TrimSpace(opt.Text())
		}
		values.Add(name, v)
	})
	form.Find("textarea").Each(func(_ int, ta *goquery.Selection) {
		if name, ok := ta.Attr("name"); ok && name != "" {
			values.Add(name, ta.Text())
		}
	})
	if submit != nil && submit.Length() > 0 {
		if name, ok := submit.Attr("name"); ok && name != "" {
			values.Set(name, submit.AttrOr("value", ""))
		}
	}
	return formSubmission{method: method, action: action, values: values}, nil
}

// findSearchButton returns the landing page "Search" button and its form.
func findSearchButton(doc *goquery.Document) (button *goquery.Selection, form *goquery.Selection, ok bool) {
	button = doc.Find(`input[value="Search"], input[value="search"]`).First()
	if button.Length() == 0 {
		doc.Find("button").EachWithBreak(func(_ int, b *goquery.Selection) bool {
			if linkText(b) == "search" {
				button = b
				return false
			}
			return true
		})
	}
	if button == nil || button.Length() == 0 {
		return nil, nil, false
	}
	form = button.Closest("form")
	if form.Length() == 0 {
		return nil, nil, false
	}
	return button, form, true
}

// postBackForm returns the form that carries ASP.NET view state.
func postBackForm(doc *goquery.Document) *goquery.Selection {
	f := doc.Find("form").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find(`input[name="__VIEWSTATE"], input[name="__EVENTTARGET"]`).Length() > 0
	}).First()
	if f.Length() == 0 {
		f = doc.Find("form").First()
	}
	return f
}
