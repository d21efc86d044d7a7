package agent

import (
	"errors"
	"testing"
)

const testOrigin = "https://app.example"

func TestResourceKey(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{testOrigin + "/", "/"},
		{testOrigin, "/"},
		{testOrigin + "/main.dart.js", "main.dart.js"},
		{testOrigin + "/assets/fonts/Roboto.ttf", "assets/fonts/Roboto.ttf"},
		{"https://cdn.example/main.dart.js", "https://cdn.example/main.dart.js"},
	}
	for _, c := range cases {
		if got := ResourceKey(testOrigin, c.url); got != c.want {
			t.Errorf("ResourceKey(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestRequestKey(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{testOrigin, "/"},
		{testOrigin + "/", "/"},
		{testOrigin + "/#/settings", "/"},
		{testOrigin + "/?v=42", "/"},
		{testOrigin + "/app.js", "app.js"},
		{testOrigin + "/app.js?v=123", "app.js"},
		{testOrigin + "/app.js?lang=de", "app.js?lang=de"},
		{testOrigin + "/assets/a.png?v=1&x=2", "assets/a.png"},
		{"https://other.example/app.js", "https://other.example/app.js"},
	}
	for _, c := range cases {
		if got := RequestKey(testOrigin, c.url); got != c.want {
			t.Errorf("RequestKey(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestRequestURLRoundTrip(t *testing.T) {
	for _, key := range []string{"/", "app.js", "assets/FontManifest.json"} {
		u := RequestURL(testOrigin, key)
		if got := ResourceKey(testOrigin, u); got != key {
			t.Errorf("ResourceKey(RequestURL(%q)) = %q", key, got)
		}
		if got := RequestKey(testOrigin, u); got != key {
			t.Errorf("RequestKey(RequestURL(%q)) = %q", key, got)
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		origin string
		ok     bool
	}{
		{testOrigin, true},
		{testOrigin + "/", true},
		{"http://localhost:8080", true},
		{testOrigin + "/app", false},
		{testOrigin + "/app/", false},
		{testOrigin + "?v=1", false},
		{testOrigin + "#top", false},
		{"https://user@app.example", false},
		{"ftp://app.example", false},
		{"app.example", false},
		{"https://", false},
	}
	for _, c := range cases {
		err := CheckOrigin(c.origin)
		if c.ok && err != nil {
			t.Errorf("CheckOrigin(%q) = %v, want nil", c.origin, err)
		}
		if !c.ok && !errors.Is(err, ErrInvalidOrigin) {
			t.Errorf("CheckOrigin(%q) = %v, want ErrInvalidOrigin", c.origin, err)
		}
	}
}
