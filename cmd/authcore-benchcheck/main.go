// Command authcore-benchcheck compares two `go test -bench` outputs and fails
// when a tracked hot-path benchmark regresses past a threshold.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
)

const defaultThreshold = 0.30

// trackedMetrics lists the engine benchmarks and the units checked for each.
var trackedMetrics = map[string][]string{
	"BenchmarkAuthenticate":       {"ns/op", "allocs/op"},
	"BenchmarkAuthorizeIdentity":  {"ns/op", "allocs/op"},
	"BenchmarkRefresh":            {"ns/op"},
	"BenchmarkMetricsInc/enabled": {"ns/op"},
}

// sampleSet maps benchmark name to unit to every value seen for it.
type sampleSet map[string]map[string][]float64

func (s sampleSet) add(name, unit string, v float64) {
	units, ok := s[name]
	if !ok {
		units = map[string][]float64{}
		s[name] = units
	}
	units[unit] = append(units[unit], v)
}

type comparison struct {
	benchmark string
	metric    string
	baseline  float64
	candidate float64
	delta     float64
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("authcore-benchcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baselinePath := fs.String("baseline", "", "benchmark output of the reference build")
	candidatePath := fs.String("candidate", "", "benchmark output of the build under test")
	threshold := fs.Float64("threshold", defaultThreshold, "largest tolerated slowdown as a ratio (0.30 = +30%)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *baselinePath == "" || *candidatePath == "" || *threshold < 0 {
		fmt.Fprintln(stderr, "usage: authcore-benchcheck -baseline FILE -candidate FILE [-threshold RATIO>=0]")
		return 2
	}

	baseline, err := parseBenchmarkFile(*baselinePath)
	if err != nil {
		fmt.Fprintf(stderr, "baseline: %v\n", err)
		return 1
	}
	candidate, err := parseBenchmarkFile(*candidatePath)
	if err != nil {
		fmt.Fprintf(stderr, "candidate: %v\n", err)
		return 1
	}

	rows, failures := compare(baseline, candidate, trackedMetrics, *threshold)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BENCHMARK\tUNIT\tBASELINE\tCANDIDATE\tDELTA")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%+.2f%%\n", r.benchmark, r.metric, r.baseline, r.candidate, r.delta*100)
	}
	_ = tw.Flush()

	if len(failures) == 0 {
		return 0
	}
	fmt.Fprintln(stderr, "regressions:")
	for _, f := range failures {
		fmt.Fprintf(stderr, "  %s\n", f)
	}
	return 1
}

// compare returns one row per tracked (benchmark, metric) pair, sorted, and a
// failure message for every missing sample or regression above threshold.
func compare(baseline, candidate sampleSet, tracked map[string][]string, threshold float64) ([]comparison, []string) {
	var (
		rows     []comparison
		failures []string
	)
	for _, name := range slices.Sorted(maps.Keys(tracked)) {
		for _, unit := range tracked[name] {
			base, cand := baseline[name][unit], candidate[name][unit]
			if len(base) == 0 || len(cand) == 0 {
				failures = append(failures, fmt.Sprintf("%s %s: missing samples", name, unit))
				continue
			}
			row := comparison{benchmark: name, metric: unit, baseline: median(base), candidate: median(cand)}
			if row.baseline <= 0 {
				failures = append(failures, fmt.Sprintf("%s %s: baseline median is not positive", name, unit))
				continue
			}
			row.delta = row.candidate/row.baseline - 1
			rows = append(rows, row)
			if row.delta > threshold {
				failures = append(failures, fmt.Sprintf("%s %s: %+.2f%% exceeds %+.2f%%", name, unit, row.delta*100, threshold*100))
			}
		}
	}
	return rows, failures
}

func parseBenchmarkFile(path string) (sampleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseBenchmarks(f, trackedMetrics)
}

// parseBenchmarks reads result lines of the form
// "BenchmarkX-8  N  v1 unit1  v2 unit2 ...", keeping only tracked names.
func parseBenchmarks(r io.Reader, tracked map[string][]string) (sampleSet, error) {
	out := sampleSet{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 || !strings.HasPrefix(fields[0], "Benchmark") {
			continue
		}
		name := normalizeBenchmarkName(fields[0])
		if _, ok := tracked[name]; !ok {
			continue
		}
		for i := 2; i+1 < len(fields); i += 2 {
			if v, err := strconv.ParseFloat(fields[i], 64); err == nil {
				out.add(name, fields[i+1], v)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read benchmark output: %w", err)
	}
	return out, nil
}

// normalizeBenchmarkName strips the -GOMAXPROCS suffix.
func normalizeBenchmarkName(raw string) string {
	i := strings.LastIndexByte(raw, '-')
	if i <= 0 {
		return raw
	}
	if _, err := strconv.Atoi(raw[i+1:]); err != nil {
		return raw
	}
	return raw[:i]
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
