package template

import (
	"strings"
	"testing"
)

func render(t *testing.T, src string, root any) string {
	t.Helper()
	tmpl, err := Compile("test", src)
	if err != nil {
		t.Fatalf("Compile(%q) returned error: %v", src, err)
	}
	var buf strings.Builder
	if err := tmpl.Render(&buf, NewEnv(DefaultRegistry(), root, nil)); err != nil {
		t.Fatalf("Render(%q) returned error: %v", src, err)
	}
	return buf.String()
}

func TestRenderBasics(t *testing.T) {
	cases := []struct {
		name string
		src  string
		root any
		want string
	}{
		{"plain text", "hello world", nil, "hello world"},
		{"escaped var", "{{x}}", map[string]any{"x": "<b>&</b>"}, "&lt;b&gt;&amp;&lt;/b&gt;"},
		{"raw var", "{{{x}}}", map[string]any{"x": "<b>"}, "<b>"},
		{"missing var", "[{{nope}}]", map[string]any{}, "[]"},
		{"nested path", "{{a.b}}", map[string]any{"a": map[string]any{"b": "deep"}}, "deep"},
		{"slash path", "{{a/b}}", map[string]any{"a": map[string]any{"b": "deep"}}, "deep"},
		{"int", "{{n}}", map[string]any{"n": int64(42)}, "42"},
		{"float", "{{n}}", map[string]any{"n": 1.5}, "1.5"},
		{"integral float", "{{n}}", map[string]any{"n": float64(3)}, "3"},
		{"bool", "{{b}}", map[string]any{"b": true}, "true"},
		{"null renders empty", "[{{x}}]", map[string]any{"x": nil}, "[]"},
		{"this", "{{this}}", "scalar", "scalar"},
		{"comment", "a{{! ignore me }}b", nil, "ab"},
		{"long comment", "a{{!-- {{x}} --}}b", nil, "ab"},
		{"if true", "{{#if x}}yes{{/if}}", map[string]any{"x": int64(1)}, "yes"},
		{"if false", "{{#if x}}yes{{else}}no{{/if}}", map[string]any{"x": ""}, "no"},
		{"unless", "{{#unless x}}empty{{/unless}}", map[string]any{}, "empty"},
		{"each array", "{{#each xs}}{{this}};{{/each}}",
			map[string]any{"xs": []any{"a", "b"}}, "a;b;"},
		{"each index", "{{#each xs}}{{@index}}{{#if @last}}!{{/if}}{{/each}}",
			map[string]any{"xs": []any{"a", "b", "c"}}, "012!"},
		{"each else", "{{#each xs}}x{{else}}none{{/each}}", map[string]any{}, "none"},
		{"each object", "{{#each o}}{{@key}}={{this}};{{/each}}",
			map[string]any{"o": map[string]any{"b": int64(2), "a": int64(1)}}, "a=1;b=2;"},
		{"parent path", "{{#each xs}}{{../title}}:{{this}};{{/each}}",
			map[string]any{"title": "T", "xs": []any{"a", "b"}}, "T:a;T:b;"},
		{"helper call", "{{default x 'fallback'}}", map[string]any{}, "fallback"},
		{"helper present", "{{default x 'fallback'}}", map[string]any{"x": "v"}, "v"},
		{"sub-expression", "{{sum (plus 1 2) 3}}", nil, "6"},
		{"object as json", "{{{o}}}", map[string]any{"o": map[string]any{"a": int64(1)}}, `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := render(t, tc.src, tc.root); got != tc.want {
				t.Errorf("render(%q) = %q, want %q", tc.src, got, tc.want)
			}
		})
	}
}

func TestRowIndexLocal(t *testing.T) {
	tmpl, err := Compile("test", "row {{@row_index}}: {{x}}")
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	e := NewEnv(DefaultRegistry(), nil, nil)
	e.PushRow(map[string]any{"x": "v"}, 3)
	var buf strings.Builder
	if err := tmpl.Render(&buf, e); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if got := buf.String(); got != "row 3: v" {
		t.Errorf("output = %q, want %q", got, "row 3: v")
	}
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"unclosed block", "{{#if x}}no end"},
		{"mismatched close", "{{#if x}}{{/each}}"},
		{"unterminated tag", "text {{x"},
		{"unterminated raw", "{{{x}}"},
		{"partial", "{{> header}}"},
		{"inverse section", "{{^x}}nope{{/x}}"},
		{"stray close", "text {{/if}}"},
		{"unterminated string", "{{default x 'oops}}"},
		{"unbalanced parens", "{{sum (plus 1 2}}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Compile("bad", tc.src); err == nil {
				t.Errorf("Compile(%q) succeeded, want error", tc.src)
			}
		})
	}
}

func TestRenderErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"unknown helper", "{{frobnicate x y}}"},
		{"unknown block helper", "{{#frobnicate}}x{{/frobnicate}}"},
		{"nested each_row", "{{#if true}}{{#each_row}}{{/each_row}}{{/if}}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tmpl, err := Compile("test", tc.src)
			if err != nil {
				t.Fatalf("Compile(%q) returned error: %v", tc.src, err)
			}
			var buf strings.Builder
			if err := tmpl.Render(&buf, NewEnv(DefaultRegistry(), nil, nil)); err == nil {
				t.Errorf("Render(%q) succeeded, want error", tc.src)
			}
		})
	}
}

func TestDelayFlushWithinOneTemplate(t *testing.T) {
	src := "{{#each xs}}<{{this}}>{{#delay}}</{{this}}>{{/delay}}{{/each}}{{flush_delayed}}"
	root := map[string]any{"xs": []any{"a", "b"}}
	want := "<a><b></b></a>"
	if got := render(t, src, root); got != want {
		t.Errorf("delayed render = %q, want %q", got, want)
	}
}

func TestFlushDelayedIsEmptyWithoutDelay(t *testing.T) {
	if got := render(t, "x{{flush_delayed}}y", nil); got != "xy" {
		t.Errorf("output = %q, want %q", got, "xy")
	}
}
