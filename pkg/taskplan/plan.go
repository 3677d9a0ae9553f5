// Package taskplan models the work a compute task performs for one job:
// downloads, alignment steps and the result upload. A Plan is data; it is
// rendered to a bash script only when handed to the batch service.
package taskplan

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Toolchain holds the alignment parameters.
type Toolchain struct {
	Threads        int    `yaml:"threads" json:"threads"`
	SeedLength     int    `yaml:"seed_length" json:"seed_length"`
	SortMemory     string `yaml:"sort_memory" json:"sort_memory"`
	ReferenceFasta string `yaml:"reference_fasta" json:"reference_fasta"`
}

// DefaultToolchain matches the chrY reference pipeline.
func DefaultToolchain() Toolchain {
	return Toolchain{
		Threads:        2,
		SeedLength:     32,
		SortMemory:     "100M",
		ReferenceFasta: "chrY.fa",
	}
}

// Download fetches URL into the working directory as Name.
type Download struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Step is one stage of the pipeline. Commands are joined with pipes; when
// Stdout is set the last command's output is redirected to that file.
type Step struct {
	Name     string     `yaml:"name"`
	Commands [][]string `yaml:"commands"`
	Stdout   string     `yaml:"stdout,omitempty"`
}

// UploadOnSuccess is the only supported output condition.
const UploadOnSuccess = "taskSuccess"

// OutputRule uploads Path to UploadURL when Condition holds.
type OutputRule struct {
	Path      string `yaml:"path"`
	UploadURL string `yaml:"upload_url"`
	Condition string `yaml:"condition"`
}

// Plan is the full task description.
type Plan struct {
	WorkDirEnv   string     `yaml:"work_dir_env"`
	Input        Download   `yaml:"input"`
	ReferenceDir string     `yaml:"reference_dir"`
	References   []Download `yaml:"references"`
	Steps        []Step     `yaml:"steps"`
	Output       OutputRule `yaml:"output"`
}

// Reference is a reference object and its signed download URL.
type Reference struct {
	Name string
	URL  string
}

// Spec is the input to New.
type Spec struct {
	InputURL   string
	References []Reference
	OutputURL  string

	// WorkDirEnv names the environment variable holding the task's working
	// directory on the compute node. Empty means stay in the start directory.
	WorkDirEnv string

	Toolchain Toolchain
}

// File names inside the task working directory.
const (
	InputFile    = "input.fq.gz"
	ReferenceDir = "ref"
	SortedBAM    = "output_result.sort.bam"
	ResultTable  = "output_result.xls"
	ResultFile   = ResultTable + ".gz"
)

var (
	ErrMissingURL       = errors.New("missing download url")
	ErrMissingReference = errors.New("reference fasta not found")
	ErrInvalidName      = errors.New("invalid reference name")
)

// New validates spec and builds the alignment plan.
func New(spec Spec) (*Plan, error) {
	if strings.TrimSpace(spec.InputURL) == "" {
		return nil, fmt.Errorf("input: %w", ErrMissingURL)
	}
	if strings.TrimSpace(spec.OutputURL) == "" {
		return nil, fmt.Errorf("output: %w", ErrMissingURL)
	}
	tc := spec.Toolchain
	if tc == (Toolchain{}) {
		tc = DefaultToolchain()
	}
	if tc.Threads <= 0 || tc.SeedLength <= 0 || tc.SortMemory == "" || tc.ReferenceFasta == "" {
		return nil, fmt.Errorf("incomplete toolchain settings: %+v", tc)
	}

	refs := make([]Download, 0, len(spec.References))
	haveFasta := false
	for _, r := range spec.References {
		name := strings.TrimPrefix(r.Name, "/")
		if name == "" || path.Clean(name) != name || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, r.Name)
		}
		if r.URL == "" {
			return nil, fmt.Errorf("reference %s: %w", name, ErrMissingURL)
		}
		if name == tc.ReferenceFasta {
			haveFasta = true
		}
		refs = append(refs, Download{Name: name, URL: r.URL})
	}
	if !haveFasta {
		return nil, fmt.Errorf("%w: %q among %d reference objects", ErrMissingReference, tc.ReferenceFasta, len(refs))
	}

	return &Plan{
		WorkDirEnv:   spec.WorkDirEnv,
		Input:        Download{Name: InputFile, URL: spec.InputURL},
		ReferenceDir: ReferenceDir,
		References:   refs,
		Steps:        alignmentSteps(tc),
		Output: OutputRule{
			Path:      ResultFile,
			UploadURL: spec.OutputURL,
			Condition: UploadOnSuccess,
		},
	}, nil
}

func alignmentSteps(tc Toolchain) []Step {
	return []Step{
		{
			Name: "align",
			Commands: [][]string{
				{"bwa", "mem", "-t", strconv.Itoa(tc.Threads), "-k", strconv.Itoa(tc.SeedLength), "-M", path.Join(ReferenceDir, tc.ReferenceFasta), InputFile},
				{"samtools", "view", "-bS", "-"},
				{"samtools", "sort", "-m", tc.SortMemory, "-", "-o", SortedBAM},
			},
		},
		{
			Name:     "tabulate",
			Commands: [][]string{{"samtools", "view", SortedBAM}},
			Stdout:   ResultTable,
		},
		{
			Name:     "compress",
			Commands: [][]string{{"gzip", "-f", ResultTable}},
		},
	}
}

// YAML renders the plan for inspection.
func (p *Plan) YAML() ([]byte, error) {
	return yaml.Marshal(p)
}
