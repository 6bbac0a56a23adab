package main

import (
	"errors"
	"testing"
)

func TestResolveStrategy(t *testing.T) {
	cases := []struct {
		name               string
		configured         string
		nativeOK, manualOK bool
		want               string
		wantPrompt         bool
		wantErr            bool
	}{
		{name: "auto with both asks", configured: "auto", nativeOK: true, manualOK: true, want: "native", wantPrompt: true},
		{name: "auto native only", configured: "auto", nativeOK: true, want: "native"},
		{name: "auto manual only", configured: "auto", manualOK: true, want: "manual"},
		{name: "auto with neither", configured: "auto", wantErr: true},
		{name: "explicit native", configured: "native", nativeOK: true, manualOK: true, want: "native"},
		{name: "explicit native unavailable", configured: "native", manualOK: true, wantErr: true},
		{name: "explicit manual", configured: "manual", nativeOK: true, manualOK: true, want: "manual"},
		{name: "explicit manual unavailable", configured: "manual", nativeOK: true, wantErr: true},
		{name: "unknown value behaves like auto", configured: "whatever", nativeOK: true, want: "native"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, prompt, err := resolveStrategy(tc.configured, tc.nativeOK, tc.manualOK)
			if tc.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveStrategy: %v", err)
			}
			if got != tc.want {
				t.Errorf("strategy = %q, want %q", got, tc.want)
			}
			if prompt != tc.wantPrompt {
				t.Errorf("prompt = %v, want %v", prompt, tc.wantPrompt)
			}
		})
	}
}

func TestNoCaptureError(t *testing.T) {
	_, _, err := resolveStrategy("auto", false, false)
	if !errors.Is(err, errNoCapture) {
		t.Errorf("want errNoCapture, got %v", err)
	}
}
