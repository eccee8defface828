package request

import (
	"fmt"
	"net/http"
	"os"

	"github.com/agentic-research/veneer/internal/httperr"
)

// StmtParam describes where one bound statement parameter comes from. The
// SQL parser produces them; Resolve turns them into values at request time.
type StmtParam interface {
	stmtParam()
	fmt.Stringer
}

// GetParam reads a GET (URL query) variable.
type GetParam struct{ Name string }

// PostParam reads a POST (form) variable.
type PostParam struct{ Name string }

// GetOrPostParam reads a variable from either scope, POST winning.
type GetOrPostParam struct{ Name string }

// CookieParam reads a request cookie.
type CookieParam struct{ Name string }

// HeaderParam reads a request header.
type HeaderParam struct{ Name string }

// EnvParam reads a server environment variable.
type EnvParam struct{ Name string }

// BasicAuthUsername reads the basic-auth username; absence is a 401.
type BasicAuthUsername struct{}

// BasicAuthPassword reads the basic-auth password; absence is a 401.
type BasicAuthPassword struct{}

func (GetParam) stmtParam()          {}
func (PostParam) stmtParam()         {}
func (GetOrPostParam) stmtParam()    {}
func (CookieParam) stmtParam()       {}
func (HeaderParam) stmtParam()       {}
func (EnvParam) stmtParam()          {}
func (BasicAuthUsername) stmtParam() {}
func (BasicAuthPassword) stmtParam() {}

func (p GetParam) String() string       { return fmt.Sprintf("the GET variable %q", p.Name) }
func (p PostParam) String() string      { return fmt.Sprintf("the POST variable %q", p.Name) }
func (p GetOrPostParam) String() string { return fmt.Sprintf("the variable %q", p.Name) }
func (p CookieParam) String() string    { return fmt.Sprintf("the cookie %q", p.Name) }
func (p HeaderParam) String() string    { return fmt.Sprintf("the header %q", p.Name) }
func (p EnvParam) String() string       { return fmt.Sprintf("the environment variable %q", p.Name) }
func (BasicAuthUsername) String() string {
	return "the basic auth username"
}
func (BasicAuthPassword) String() string {
	return "the basic auth password"
}

// Resolve produces the SQL value for one parameter: a string to bind, or
// nil for SQL NULL when the source is absent. List values bind as a JSON
// array string. Missing basic-auth credentials abort with a 401 so the
// transport challenges the client instead of rendering the page.
func Resolve(param StmtParam, info *Info) (*string, error) {
	switch p := param.(type) {
	case GetParam:
		return info.Get.lookup(p.Name), nil
	case PostParam:
		return info.Post.lookup(p.Name), nil
	case GetOrPostParam:
		if v := info.Post.lookup(p.Name); v != nil {
			return v, nil
		}
		return info.Get.lookup(p.Name), nil
	case CookieParam:
		if v, ok := info.Cookies[p.Name]; ok {
			return &v, nil
		}
		return nil, nil
	case HeaderParam:
		if vals := info.Headers.Values(p.Name); len(vals) > 0 {
			return &vals[0], nil
		}
		return nil, nil
	case EnvParam:
		if v, ok := os.LookupEnv(p.Name); ok {
			return &v, nil
		}
		return nil, nil
	case BasicAuthUsername:
		creds, err := requireBasicAuth(info)
		if err != nil {
			return nil, err
		}
		return &creds.Username, nil
	case BasicAuthPassword:
		creds, err := requireBasicAuth(info)
		if err != nil {
			return nil, err
		}
		return &creds.Password, nil
	default:
		return nil, fmt.Errorf("unsupported statement parameter %s", param)
	}
}

func requireBasicAuth(info *Info) (*Credentials, error) {
	if info.BasicAuth == nil {
		return nil, httperr.New(http.StatusUnauthorized, "this page requires basic authentication")
	}
	return info.BasicAuth, nil
}
