package args_test

import (
	"errors"
	"flag"
	"strconv"
	"testing"

	"github.com/fnndsc/plinst/pkg/utils/args"
)

type Worker int

func (w Worker) String() string {
	return strconv.Itoa(int(w))
}

func AsWorker(s string) (Worker, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if i <= 0 {
		return 0, errors.New("workers should be positive")
	}
	return Worker(i), nil
}

func TestParser(t *testing.T) {
	t.Run("it parses flag value", func(t *testing.T) {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		w := args.Parser(AsWorker)
		fs.Var(w, "workers", "")

		if err := fs.Parse([]string{"-workers", "3"}); err != nil {
			t.Fatal(err)
		}
		if !w.IsSet() || w.Value() != 3 {
			t.Errorf("(actual, expected) = (%v/%v, %d/true)", w.Value(), w.IsSet(), 3)
		}
	})

	t.Run("it rejects invalid value", func(t *testing.T) {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		w := args.Parser(AsWorker)
		fs.Var(w, "workers", "")

		if err := fs.Parse([]string{"-workers", "0"}); err == nil {
			t.Errorf("expected error does not occur")
		}
		if w.IsSet() {
			t.Errorf("invalid value is set")
		}
	})

	t.Run("default value is kept when the flag is not given", func(t *testing.T) {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		w := args.Default(AsWorker, 5)
		fs.Var(w, "workers", "")

		if err := fs.Parse([]string{}); err != nil {
			t.Fatal(err)
		}
		if w.IsSet() || w.Value() != 5 {
			t.Errorf("(actual, expected) = (%v/%v, %d/false)", w.Value(), w.IsSet(), 5)
		}
	})
}
