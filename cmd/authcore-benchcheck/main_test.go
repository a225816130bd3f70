package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const baselineOutput = `goos: linux
goarch: amd64
pkg: github.com/ibn-api/authcore
BenchmarkAuthenticate-8        	   50000	     20000 ns/op	    4096 B/op	      40 allocs/op
BenchmarkAuthenticate-8        	   50000	     22000 ns/op	    4096 B/op	      40 allocs/op
BenchmarkAuthenticate-8        	   50000	     21000 ns/op	    4096 B/op	      40 allocs/op
BenchmarkRefresh-8             	   10000	    100000 ns/op	    8192 B/op	      90 allocs/op
BenchmarkSomethingElse-8       	 1000000	      1000 ns/op
PASS
`

func TestParseBenchmarks(t *testing.T) {
	tracked := map[string][]string{
		"BenchmarkAuthenticate": {"ns/op", "allocs/op"},
		"BenchmarkRefresh":      {"ns/op"},
	}
	got, err := parseBenchmarks(strings.NewReader(baselineOutput), tracked)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if n := len(got["BenchmarkAuthenticate"]["ns/op"]); n != 3 {
		t.Fatalf("authenticate samples = %d, want 3", n)
	}
	if v := got["BenchmarkRefresh"]["B/op"]; len(v) != 1 || v[0] != 8192 {
		t.Fatalf("refresh B/op = %v", v)
	}
	if _, ok := got["BenchmarkSomethingElse"]; ok {
		t.Fatal("untracked benchmark parsed")
	}
}

func TestCompare(t *testing.T) {
	tracked := map[string][]string{
		"BenchmarkAuthenticate": {"ns/op"},
		"BenchmarkRefresh":      {"ns/op"},
	}
	baseline := sampleSet{
		"BenchmarkAuthenticate": {"ns/op": {100, 110, 90}},
		"BenchmarkRefresh":      {"ns/op": {1000}},
	}

	tests := []struct {
		name         string
		candidate    sampleSet
		wantFailures int
	}{
		{
			name: "within threshold",
			candidate: sampleSet{
				"BenchmarkAuthenticate": {"ns/op": {120}},
				"BenchmarkRefresh":      {"ns/op": {900}},
			},
		},
		{
			name: "regression",
			candidate: sampleSet{
				"BenchmarkAuthenticate": {"ns/op": {200}},
				"BenchmarkRefresh":      {"ns/op": {1000}},
			},
			wantFailures: 1,
		},
		{
			name: "missing samples",
			candidate: sampleSet{
				"BenchmarkAuthenticate": {"ns/op": {100}},
			},
			wantFailures: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, failures := compare(baseline, tt.candidate, tracked, 0.30)
			if len(failures) != tt.wantFailures {
				t.Fatalf("failures = %v, want %d", failures, tt.wantFailures)
			}
		})
	}
}

func TestNormalizeBenchmarkName(t *testing.T) {
	cases := map[string]string{
		"BenchmarkRefresh-16":       "BenchmarkRefresh",
		"BenchmarkRefresh":          "BenchmarkRefresh",
		"BenchmarkMetricsInc-x":     "BenchmarkMetricsInc-x",
		"BenchmarkAuthenticate-8-4": "BenchmarkAuthenticate-8",
	}
	for in, want := range cases {
		if got := normalizeBenchmarkName(in); got != want {
			t.Errorf("normalizeBenchmarkName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMedian(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Fatalf("odd median = %v", got)
	}
	if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Fatalf("even median = %v", got)
	}
	if got := median(nil); got != 0 {
		t.Fatalf("empty median = %v", got)
	}
}

func TestRunExitCodes(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}
	line := func(ns int) string {
		return "BenchmarkAuthenticate-8 1 " + strconv.Itoa(ns) + " ns/op 40 allocs/op\n" +
			"BenchmarkAuthorizeIdentity-8 1 100 ns/op 2 allocs/op\n" +
			"BenchmarkRefresh-8 1 1000 ns/op\n" +
			"BenchmarkMetricsInc/enabled-8 1 2 ns/op\n"
	}
	base := write("base.txt", line(1000))
	same := write("same.txt", line(1100))
	slow := write("slow.txt", line(2000))

	var out, errOut bytes.Buffer
	if code := run([]string{"-baseline", base, "-candidate", same}, &out, &errOut); code != 0 {
		t.Fatalf("within threshold: exit %d, stderr %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "BenchmarkMetricsInc/enabled") {
		t.Fatalf("table missing sub-benchmark:\n%s", out.String())
	}
	if code := run([]string{"-baseline", base, "-candidate", slow}, &out, &errOut); code != 1 {
		t.Fatalf("regression: exit %d", code)
	}
	if code := run([]string{"-baseline", base}, &out, &errOut); code != 2 {
		t.Fatalf("missing flag: exit %d", code)
	}
}
