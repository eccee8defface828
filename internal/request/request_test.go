package request

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/veneer/internal/httperr"
)

func TestExtractQueryVariables(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/page.sql?a=1&tag=x&tag=y", nil)
	info := Extract(r)

	assert.Equal(t, "1", info.Get["a"].String())
	assert.False(t, info.Get["a"].IsList())
	assert.True(t, info.Get["tag"].IsList())
	assert.Equal(t, []string{"x", "y"}, info.Get["tag"].Strings())
}

func TestExtractFormBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/page.sql?q=g", strings.NewReader("name=alice&name=bob&city=lyon"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	info := Extract(r)

	assert.Equal(t, "g", info.Get["q"].String())
	assert.Equal(t, `["alice","bob"]`, info.Post["name"].String())
	assert.Equal(t, "lyon", info.Post["city"].String())
	_, inGet := info.Get["name"]
	assert.False(t, inGet, "form fields must not leak into the GET scope")
}

func TestExtractMultipartBody(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "v1"))
	require.NoError(t, mw.WriteField("name", "v2"))
	fw, err := mw.CreateFormFile("upload", "a.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("file content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	info := Extract(r)

	assert.Equal(t, `["v1","v2"]`, info.Post["name"].String())
	_, ok := info.Post["upload"]
	assert.False(t, ok, "file parts are not variables")
}

func TestExtractCookiesHeadersAuth(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: "abc"})
	r.Header.Set("X-Client", "tester")
	r.SetBasicAuth("admin", "hunter2")
	info := Extract(r)

	assert.Equal(t, "abc", info.Cookies["session"])
	assert.Equal(t, "tester", info.Headers.Get("X-Client"))
	require.NotNil(t, info.BasicAuth)
	assert.Equal(t, "admin", info.BasicAuth.Username)
	assert.Equal(t, "hunter2", info.BasicAuth.Password)
}

func newInfo() *Info {
	return &Info{
		Get:     Vars{},
		Post:    Vars{},
		Cookies: map[string]string{},
		Headers: http.Header{},
	}
}

func TestResolveScopePrecedence(t *testing.T) {
	info := newInfo()
	info.Get["x"] = Single("from-get")
	info.Post["x"] = Single("from-post")

	v, err := Resolve(GetParam{Name: "x"}, info)
	require.NoError(t, err)
	assert.Equal(t, "from-get", *v)

	v, err = Resolve(PostParam{Name: "x"}, info)
	require.NoError(t, err)
	assert.Equal(t, "from-post", *v)

	v, err = Resolve(GetOrPostParam{Name: "x"}, info)
	require.NoError(t, err)
	assert.Equal(t, "from-post", *v)

	delete(info.Post, "x")
	v, err = Resolve(GetOrPostParam{Name: "x"}, info)
	require.NoError(t, err)
	assert.Equal(t, "from-get", *v)
}

func TestResolveAbsentIsNull(t *testing.T) {
	info := newInfo()
	for _, p := range []StmtParam{
		GetParam{Name: "missing"},
		PostParam{Name: "missing"},
		GetOrPostParam{Name: "missing"},
		CookieParam{Name: "missing"},
		HeaderParam{Name: "missing"},
	} {
		v, err := Resolve(p, info)
		require.NoError(t, err)
		assert.Nil(t, v, "%s should resolve to NULL", p)
	}
}

func TestResolveListBindsAsJSON(t *testing.T) {
	info := newInfo()
	info.Get["tags"] = List([]string{"a", "b"})

	v, err := Resolve(GetParam{Name: "tags"}, info)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, *v)
}

func TestResolveCookieAndHeader(t *testing.T) {
	info := newInfo()
	info.Cookies["sid"] = "s1"
	info.Headers.Set("User-Agent", "veneer-test")

	v, err := Resolve(CookieParam{Name: "sid"}, info)
	require.NoError(t, err)
	assert.Equal(t, "s1", *v)

	v, err = Resolve(HeaderParam{Name: "user-agent"}, info)
	require.NoError(t, err)
	assert.Equal(t, "veneer-test", *v)
}

func TestResolveEnvironment(t *testing.T) {
	t.Setenv("VENEER_TEST_SETTING", "on")

	v, err := Resolve(EnvParam{Name: "VENEER_TEST_SETTING"}, newInfo())
	require.NoError(t, err)
	assert.Equal(t, "on", *v)

	v, err = Resolve(EnvParam{Name: "VENEER_TEST_UNSET"}, newInfo())
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveBasicAuth(t *testing.T) {
	info := newInfo()
	info.BasicAuth = &Credentials{Username: "u", Password: "p"}

	v, err := Resolve(BasicAuthUsername{}, info)
	require.NoError(t, err)
	assert.Equal(t, "u", *v)
	v, err = Resolve(BasicAuthPassword{}, info)
	require.NoError(t, err)
	assert.Equal(t, "p", *v)
}

func TestResolveMissingBasicAuthIs401(t *testing.T) {
	for _, p := range []StmtParam{BasicAuthUsername{}, BasicAuthPassword{}} {
		_, err := Resolve(p, newInfo())
		require.Error(t, err)
		var statusErr *httperr.Error
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
	}
}

func TestSetAndClearVariables(t *testing.T) {
	info := newInfo()

	require.NoError(t, info.SetVar(GetOrPostParam{Name: "v"}, Single("1")))
	assert.Equal(t, "1", info.Get["v"].String())

	require.NoError(t, info.SetVar(PostParam{Name: "w"}, List([]string{"a"})))
	assert.True(t, info.Post["w"].IsList())

	require.NoError(t, info.ClearVar(GetOrPostParam{Name: "v"}))
	_, ok := info.Get["v"]
	assert.False(t, ok)

	err := info.SetVar(CookieParam{Name: "c"}, Single("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only GET and POST variables can be set")
}
