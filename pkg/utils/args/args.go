package args

// Adapter is a flag.Value backed by a parser function.
//
//	loopType := args.Parser(domain.AsLoopType)
//	flag.Var(loopType, "type", "one of loop type")
//	flag.Parse()
//	loopType.Value() // => domain.LoopType
type Adapter[T interface{ String() string }] struct {
	value  T
	parser func(string) (T, error)
	isSet  bool
}

func (i *Adapter[T]) String() string {
	if i == nil || !i.isSet {
		return ""
	}
	return i.value.String()
}

func (i *Adapter[T]) Set(s string) error {
	v, err := i.parser(s)
	if err != nil {
		return err
	}
	i.isSet = true
	i.value = v
	return nil
}

// Value returns the parsed value, or zero value when it is not set.
func (i *Adapter[T]) Value() T {
	return i.value
}

func (i *Adapter[T]) IsSet() bool {
	return i.isSet
}

// Parser creates an Adapter with the parser.
func Parser[T interface{ String() string }](parser func(string) (T, error)) *Adapter[T] {
	return &Adapter[T]{parser: parser}
}

// Default creates an Adapter holding a default value.
//
// IsSet reports false until the flag is given explicitly.
func Default[T interface{ String() string }](parser func(string) (T, error), value T) *Adapter[T] {
	return &Adapter[T]{parser: parser, value: value}
}
