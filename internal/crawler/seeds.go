package crawler

import (
	"net/url"
	"strings"

	"github.com/shafouz/libafl-go/internal/target"
	"github.com/shafouz/libafl-go/pkg/inputs"
)

// Seed pairs one target.Target discovered while crawling with an initial
// request body the core's LoadInitialInputs can feed straight into the
// corpus (spec.md §7.1: "initial inputs may come from a generator or from
// operator-supplied seeds"). Grounded on the teacher's Crawler.GetResults/
// GetForms, which served the same discovered endpoints to a human operator;
// here they seed the fuzzing loop directly instead.
type Seed struct {
	Target *target.Target
	Input  inputs.Input
}

// Seeds converts every crawl Result with discovered parameters or forms
// into a Seed. A Result with neither is skipped: an endpoint with no
// observed input surface gives the mutational stages nothing to vary.
func Seeds(results []Result) []Seed {
	var seeds []Seed
	for _, r := range results {
		if len(r.Parameters) == 0 && len(r.Forms) == 0 {
			continue
		}
		if len(r.Parameters) > 0 {
			seeds = append(seeds, seedFromParams(r, r.Parameters)...)
		}
		for _, f := range r.Forms {
			seeds = append(seeds, seedFromForm(r, f))
		}
	}
	return seeds
}

func seedFromParams(r Result, params []Parameter) []Seed {
	method := r.Method
	if method == "" {
		method = "GET"
	}

	values := url.Values{}
	for _, p := range params {
		values.Set(p.Name, p.Value)
	}
	body := values.Encode()

	return []Seed{{
		Target: &target.Target{
			Method: method,
			URL:    r.URL,
			Headers: map[string]string{
				"Content-Type": "application/x-www-form-urlencoded",
			},
		},
		Input: inputs.New([]byte(body)),
	}}
}

func seedFromForm(r Result, f Form) Seed {
	method := f.Method
	if method == "" {
		method = "POST"
	}
	action := f.Action
	if action == "" {
		action = r.URL
	}

	values := url.Values{}
	for _, in := range f.Inputs {
		v := in.Value
		if v == "" {
			v = "x"
		}
		values.Set(in.Name, v)
	}

	enctype := f.Enctype
	if enctype == "" {
		enctype = "application/x-www-form-urlencoded"
	}

	return Seed{
		Target: &target.Target{
			Method:  strings.ToUpper(method),
			URL:     action,
			Headers: map[string]string{"Content-Type": enctype},
		},
		Input: inputs.New([]byte(values.Encode())),
	}
}
