//go:build js && wasm

package jsmap

import (
	"net/url"
	"strings"
	"syscall/js"
)

// BrowserURL is the page URL. Writes replace the current history entry.
type BrowserURL struct{}

func (BrowserURL) Hash() string {
	return js.Global().Get("location").Get("hash").String()
}

func (u BrowserURL) SetHash(hash string) {
	if hash != "" && !strings.HasPrefix(hash, "#") {
		hash = "#" + hash
	}
	loc := js.Global().Get("location")
	u.replace(loc.Get("pathname").String() + loc.Get("search").String() + hash)
}

func (u BrowserURL) SetQuery(q url.Values) {
	loc := js.Global().Get("location")
	target := loc.Get("pathname").String()
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}
	u.replace(target + loc.Get("hash").String())
}

func (BrowserURL) replace(target string) {
	js.Global().Get("history").Call("replaceState", js.Null(), "", target)
}
