package config

import (
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// Settings is the validated result of parsing the command line.
type Settings struct {
	File       string
	Directory  string
	OutputDir  string
	ConfigPath string
	WorkingDir bool
	Recursive  bool
	Verbose    bool
	Pprof      bool
	Help       bool

	// Ignored holds every token that was dropped: unknown switches, value
	// switches without a value, and stray positionals. Never an error.
	Ignored []string
}

// HasSelection reports whether any selection switch was given. Verbose alone
// carries no selection information.
func (s Settings) HasSelection() bool {
	return s.File != "" || s.Directory != "" || s.WorkingDir || s.Recursive
}

type switchSpec struct {
	long     string
	takesArg bool
}

// switches maps every accepted spelling (lower case) to its canonical flag.
var switches = map[string]switchSpec{
	"-f": {long: "file", takesArg: true}, "--file": {long: "file", takesArg: true},
	"-d": {long: "directory", takesArg: true}, "--directory": {long: "directory", takesArg: true},
	"-o": {long: "output", takesArg: true}, "--output": {long: "output", takesArg: true},
	"-c": {long: "config", takesArg: true}, "--config": {long: "config", takesArg: true},
	"-w": {long: "working-dir"}, "--working-dir": {long: "working-dir"},
	"-r": {long: "recurse"}, "--recurse": {long: "recurse"}, "--recursive": {long: "recurse"},
	"-v": {long: "verbose"}, "--verbose": {long: "verbose"},
	"-p": {long: "pprof"}, "--pprof": {long: "pprof"},
	"-h": {long: "help"}, "--help": {long: "help"},
}

// RegisterFlags binds the command-line switches of s to fs.
func RegisterFlags(fs *pflag.FlagSet, s *Settings) {
	fs.StringVarP(&s.File, "file", "f", "", "profile a single file")
	fs.StringVarP(&s.Directory, "directory", "d", "", "base directory for file selection (--directory=DIR also works)")
	fs.StringVarP(&s.OutputDir, "output", "o", "", "directory for CSV artifacts (default: current directory)")
	fs.StringVarP(&s.ConfigPath, "config", "c", "", "YAML configuration file")
	fs.BoolVarP(&s.WorkingDir, "working-dir", "w", false, "profile every script directly in the base directory (default)")
	fs.BoolVarP(&s.Recursive, "recurse", "r", false, "profile every script under the base directory, at any depth; wins over --file")
	fs.BoolVarP(&s.Verbose, "verbose", "v", false, "narrate progress; alone it selects the default mode")
	fs.BoolVarP(&s.Pprof, "pprof", "p", false, "also write a gzipped pprof profile per script")
	fs.BoolVarP(&s.Help, "help", "h", false, "show this help")
}

// ParseArgs turns raw arguments into Settings. It never fails: anything it
// does not understand ends up in Settings.Ignored. Switch names are matched
// case-insensitively and a repeated switch keeps its last value.
func ParseArgs(args []string) Settings {
	var s Settings
	clean, ignored := normalize(args)
	s.Ignored = ignored

	fs := pflag.NewFlagSet("cprofcsv", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	RegisterFlags(fs, &s)
	if err := fs.Parse(clean); err != nil {
		// normalize only emits well-formed tokens, so this is unreachable
		// in practice; keep the defaults and record what was dropped.
		s = Settings{Ignored: append(ignored, clean...)}
	}
	return s
}

// normalize rewrites recognized switches to "--long[=value]" and splits off
// everything else.
func normalize(args []string) (clean, ignored []string) {
	for i := 0; i < len(args); i++ {
		tok := args[i]
		if tok == "--" {
			ignored = append(ignored, args[i:]...)
			break
		}

		name, value, hasValue := tok, "", false
		if strings.HasPrefix(tok, "-") {
			if eq := strings.Index(tok, "="); eq > 0 {
				name, value, hasValue = tok[:eq], tok[eq+1:], true
			}
		}
		spec, ok := switches[strings.ToLower(name)]
		if !ok {
			ignored = append(ignored, tok)
			continue
		}

		if !spec.takesArg {
			if hasValue {
				if _, err := strconv.ParseBool(value); err != nil {
					ignored = append(ignored, tok)
					continue
				}
				clean = append(clean, "--"+spec.long+"="+value)
				continue
			}
			clean = append(clean, "--"+spec.long)
			continue
		}

		// A separate value never starts with a dash; "--file=-x.py" is the
		// only way to pass one that does.
		if !hasValue {
			if i+1 >= len(args) || looksLikeSwitch(args[i+1]) {
				ignored = append(ignored, tok)
				continue
			}
			i++
			value = args[i]
		}
		if value == "" {
			ignored = append(ignored, tok)
			continue
		}
		clean = append(clean, "--"+spec.long+"="+value)
	}
	return clean, ignored
}

// looksLikeSwitch reports whether tok is shaped like a switch, known or not.
// A lone "-" is a value.
func looksLikeSwitch(tok string) bool {
	return len(tok) > 1 && strings.HasPrefix(tok, "-")
}
