package request

import (
	"fmt"
	"net/http"
	"strings"
)

// Vars is one mutable variable scope. GET and POST each have their own; set
// statements mutate them during execution.
type Vars map[string]Value

// lookup returns the bindable form of a variable, or nil when unset.
func (v Vars) lookup(name string) *string {
	val, ok := v[name]
	if !ok {
		return nil
	}
	s := val.String()
	return &s
}

// Credentials are the decoded basic-auth username and password.
type Credentials struct {
	Username string
	Password string
}

// Info is everything one request exposes to SQL statements. It lives for
// exactly one request; the variable scopes are mutated by set statements.
type Info struct {
	Get       Vars
	Post      Vars
	Cookies   map[string]string
	Headers   http.Header
	BasicAuth *Credentials
}

// maxFormMemory bounds the in-memory part of multipart bodies, matching the
// net/http default.
const maxFormMemory = 32 << 20

// Extract captures the request data statements can reference. Form bodies
// are consumed here; file parts of multipart bodies are ignored, only text
// fields become variables. A malformed body yields empty POST variables
// rather than an error.
func Extract(r *http.Request) *Info {
	info := &Info{
		Get:     Vars{},
		Post:    Vars{},
		Cookies: map[string]string{},
		Headers: r.Header,
	}
	for name, vals := range r.URL.Query() {
		info.Get[name] = fromStrings(vals)
	}
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxFormMemory); err == nil {
			for name, vals := range r.MultipartForm.Value {
				info.Post[name] = fromStrings(vals)
			}
		}
	} else if err := r.ParseForm(); err == nil {
		for name, vals := range r.PostForm {
			info.Post[name] = fromStrings(vals)
		}
	}
	for _, c := range r.Cookies() {
		info.Cookies[c.Name] = c.Value
	}
	if user, pass, ok := r.BasicAuth(); ok {
		info.BasicAuth = &Credentials{Username: user, Password: pass}
	}
	return info
}

// scopeFor returns the scope a set statement assigns to. Only GET and POST
// variables are assignable; $name and bare names target the GET scope,
// :name the POST scope.
func (info *Info) scopeFor(target StmtParam) (Vars, string, error) {
	switch p := target.(type) {
	case GetParam:
		return info.Get, p.Name, nil
	case GetOrPostParam:
		return info.Get, p.Name, nil
	case PostParam:
		return info.Post, p.Name, nil
	default:
		return nil, "", fmt.Errorf("only GET and POST variables can be set, not %s", target)
	}
}

// SetVar stores the result of a set statement.
func (info *Info) SetVar(target StmtParam, value Value) error {
	scope, name, err := info.scopeFor(target)
	if err != nil {
		return err
	}
	scope[name] = value
	return nil
}

// ClearVar removes a variable; a set statement whose query returns no row
// clears its target.
func (info *Info) ClearVar(target StmtParam) error {
	scope, name, err := info.scopeFor(target)
	if err != nil {
		return err
	}
	delete(scope, name)
	return nil
}
