package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petal-labs/sequential/seqnum"
	"github.com/petal-labs/sequential/sequence"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// NewStateCmd creates the "state" subcommand.
func NewStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <file>",
		Short: "Inspect or advance a persisted sequence state file",
		Long: `Decode a sequence state file (JSON, or YAML for .yaml/.yml files), accepting
legacy field names, and print it in canonical form.

With --next, the given number of values are drawn first and printed one per
line; --write stores the advanced state back into the file.`,
		Args: cobra.ExactArgs(1),
		RunE: runState,
	}

	cmd.Flags().String("kind", "uint64", "Integer kind the state was written with")
	cmd.Flags().Int("next", 0, "Number of values to draw")
	cmd.Flags().String("format", "", "Output format: json or yaml (default: input format)")
	cmd.Flags().Bool("write", false, "Write the resulting state back to the file")

	return cmd
}

type stateOptions struct {
	input  string
	output string
	next   int
}

func runState(cmd *cobra.Command, args []string) error {
	path := args[0]
	kind, _ := cmd.Flags().GetString("kind")
	next, _ := cmd.Flags().GetInt("next")
	format, _ := cmd.Flags().GetString("format")
	write, _ := cmd.Flags().GetBool("write")

	if next < 0 {
		return exitError(exitValidation, "--next must not be negative")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", path)
		}
		return exitError(exitRuntime, "reading %s: %v", path, err)
	}

	opts := stateOptions{input: detectFormat(path), next: next}
	opts.output = opts.input
	if format != "" {
		switch format {
		case formatJSON, formatYAML:
			opts.output = format
		default:
			return exitError(exitValidation, "unknown format %q (use json or yaml)", format)
		}
	}

	var values bytes.Buffer
	state, err := transformState(kind, data, opts, &values)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if _, err := io.Copy(out, &values); err != nil {
		return exitError(exitRuntime, "writing output: %v", err)
	}
	if write {
		if err := os.WriteFile(path, state, 0o600); err != nil {
			return exitError(exitRuntime, "writing %s: %v", path, err)
		}
		return nil
	}
	if _, err := out.Write(state); err != nil {
		return exitError(exitRuntime, "writing output: %v", err)
	}
	return nil
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// transformState decodes data as a sequence of the named kind, draws
// opts.next values into values, and returns the encoded resulting state.
func transformState(kind string, data []byte, opts stateOptions, values io.Writer) ([]byte, error) {
	switch kind {
	case sequence.Uint8.Name():
		return applyState(sequence.Uint8, data, opts, values)
	case sequence.Uint16.Name():
		return applyState(sequence.Uint16, data, opts, values)
	case sequence.Uint32.Name():
		return applyState(sequence.Uint32, data, opts, values)
	case sequence.Uint64.Name():
		return applyState(sequence.Uint64, data, opts, values)
	case sequence.Uint.Name():
		return applyState(sequence.Uint, data, opts, values)
	case sequence.Uintptr.Name():
		return applyState(sequence.Uintptr, data, opts, values)
	case sequence.Uint128.Name():
		return applyState(sequence.Uint128, data, opts, values)
	default:
		return nil, exitError(exitValidation, "unknown kind %q", kind)
	}
}

func applyState[T any, N seqnum.Ops[T]](k sequence.Kind[T, N], data []byte, opts stateOptions, values io.Writer) ([]byte, error) {
	seq := k.New()
	var err error
	if opts.input == formatYAML {
		err = yaml.Unmarshal(data, &seq)
	} else {
		err = json.Unmarshal(data, &seq)
	}
	if err != nil {
		return nil, exitError(exitInputParse, "decoding state: %v", err)
	}

	num := k.Ops()
	for range opts.next {
		v, ok := seq.Next()
		if !ok {
			break
		}
		fmt.Fprintln(values, num.Format(v))
	}

	if opts.output == formatYAML {
		out, err := yaml.Marshal(seq)
		if err != nil {
			return nil, exitError(exitRuntime, "encoding state: %v", err)
		}
		return out, nil
	}
	out, err := json.Marshal(seq)
	if err != nil {
		return nil, exitError(exitRuntime, "encoding state: %v", err)
	}
	return append(out, '\n'), nil
}
