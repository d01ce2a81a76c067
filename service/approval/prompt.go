package approval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// PromptDecider returns a DecisionFunc that asks the user to approve or
// reject each request on the supplied streams.  Nil streams default to
// stdin/stdout.  Anything other than y/yes rejects, so hitting Enter on an
// unattended terminal never lets a step through.
func PromptDecider(in io.Reader, out io.Writer) DecisionFunc {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	reader := bufio.NewReader(in)

	return func(r *Request) (bool, string) {
		fmt.Fprintf(out, "approve %s", r.Action)
		if len(r.Args) > 0 {
			fmt.Fprintf(out, " %s", string(r.Args))
		}
		fmt.Fprint(out, "? [y/N] ")

		response, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err.Error()
		}
		switch strings.ToLower(strings.TrimSpace(response)) {
		case "y", "yes":
			return true, ""
		}
		return false, "rejected at prompt"
	}
}
