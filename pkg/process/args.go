package process

import (
	"path/filepath"
	"strconv"
	"strings"
)

const (
	HostNamePlaceholder = "{HostName}"
	PortPlaceholder     = "{Port}"
)

// SubstitutePlaceholders fills {HostName} and {Port} in a command line template.
func SubstitutePlaceholders(template, hostName string, port int) string {
	replacer := strings.NewReplacer(
		HostNamePlaceholder, hostName,
		PortPlaceholder, strconv.Itoa(port),
	)
	return replacer.Replace(template)
}

// SplitCommandLine splits on whitespace. Double quotes group words and a
// backslash escapes the next character inside quotes.
func SplitCommandLine(commandLine string) []string {
	var (
		args    []string
		current strings.Builder
		inQuote bool
		hasWord bool
	)

	for i := 0; i < len(commandLine); i++ {
		c := commandLine[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(commandLine):
			i++
			current.WriteByte(commandLine[i])
		case c == '"':
			inQuote = !inQuote
			hasWord = true
		case !inQuote && (c == ' ' || c == '\t' || c == '\n' || c == '\r'):
			if hasWord {
				args = append(args, current.String())
				current.Reset()
				hasWord = false
			}
		default:
			current.WriteByte(c)
			hasWord = true
		}
	}
	if hasWord {
		args = append(args, current.String())
	}
	return args
}

// ProcessName is the OS-visible name of an executable, without a .exe suffix.
func ProcessName(executablePath string) string {
	base := filepath.Base(executablePath)
	return strings.TrimSuffix(base, ".exe")
}
