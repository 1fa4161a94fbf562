package tools

import (
	"fmt"
	"strings"
)

// Control and redirection operators. Longest first so "||" wins over "|" and
// "2>&" wins over "&".
var shellOperators = []string{
	"2>>", "2>&", "&>>",
	"2>", "&>", ">>", ">&", "||", "&&", "|&",
	"|", ";", "&", ">", "<",
}

// Operators that start a new command. A newline outside quotes is emitted
// as its own "\n" operator.
var segmentOperators = map[string]bool{
	"|": true, "||": true, "&&": true, "|&": true, ";": true, "&": true, "\n": true,
}

// Reserved words and wrappers that may precede the real command word.
var commandPrefixes = map[string]bool{
	"{": true, "}": true, "!": true,
	"if": true, "then": true, "else": true, "elif": true, "fi": true,
	"while": true, "until": true, "do": true, "done": true,
	"time": true, "exec": true, "command": true, "builtin": true, "nohup": true, "env": true,
}

type shellToken struct {
	text string
	op   bool
}

// tokenizeShell splits a command the way a POSIX shell splits words, without
// expanding anything. Quotes group, backslash escapes outside single quotes,
// and operators split words even without surrounding spaces. A "#" at the
// start of a word comments out the rest of the line. Unterminated quotes and
// trailing escapes are syntax errors.
func tokenizeShell(command string) ([]shellToken, error) {
	var (
		tokens  []shellToken
		word    strings.Builder
		inWord  bool
		quote   byte
		escaped bool
	)

	flush := func() {
		if inWord {
			tokens = append(tokens, shellToken{text: word.String()})
			word.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(command); i++ {
		c := command[i]

		if escaped {
			// backslash-newline is a line continuation
			if c != '\n' {
				word.WriteByte(c)
			} else if word.Len() == 0 {
				inWord = false
			}
			escaped = false
			continue
		}

		switch quote {
		case '\'':
			if c == '\'' {
				quote = 0
			} else {
				word.WriteByte(c)
			}
			continue
		case '"':
			switch {
			case c == '"':
				quote = 0
			case c == '\\' && i+1 < len(command) && strings.IndexByte("\"\\$`\n", command[i+1]) >= 0:
				i++
				word.WriteByte(command[i])
			default:
				word.WriteByte(c)
			}
			continue
		}

		switch {
		case c == '\\':
			escaped = true
			inWord = true
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '#' && !inWord:
			for i+1 < len(command) && command[i+1] != '\n' {
				i++
			}
		case c == ' ' || c == '\t' || c == '\r':
			flush()
		case c == '\n':
			flush()
			tokens = append(tokens, shellToken{text: "\n", op: true})
		default:
			if op := operatorAt(command, i, !inWord); op != "" {
				flush()
				tokens = append(tokens, shellToken{text: op, op: true})
				i += len(op) - 1
				continue
			}
			word.WriteByte(c)
			inWord = true
		}
	}

	if escaped {
		return nil, fmt.Errorf("%w: trailing backslash", ErrSyntax)
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated %c quote", ErrSyntax, quote)
	}
	flush()
	return tokens, nil
}

// operatorAt returns the operator starting at i. "2>" only counts at the
// start of a word, so "file2>out" stays a word plus ">".
func operatorAt(s string, i int, wordStart bool) string {
	for _, op := range shellOperators {
		if op[0] == '2' && !wordStart {
			continue
		}
		if strings.HasPrefix(s[i:], op) {
			return op
		}
	}
	return ""
}

// commandWords returns the command name of every pipeline segment, skipping
// leading VAR=value assignments, redirect targets, reserved words and
// subshell parentheses.
func commandWords(tokens []shellToken) []string {
	var words []string
	expectCommand := true
	skipNext := false
	afterPrefix := false
	for _, tok := range tokens {
		if tok.op {
			if segmentOperators[tok.text] {
				expectCommand = true
				afterPrefix = false
			} else {
				skipNext = true
			}
			continue
		}
		if skipNext {
			skipNext = false
			continue
		}
		if !expectCommand {
			continue
		}
		word := strings.Trim(tok.text, "()")
		if word == "" || isAssignment(word) {
			continue
		}
		if commandPrefixes[word] {
			afterPrefix = true
			continue
		}
		// wrapper options, as in "env -i rm" or "time -p rm"
		if afterPrefix && strings.HasPrefix(word, "-") {
			continue
		}
		words = append(words, word)
		expectCommand = false
		afterPrefix = false
	}
	return words
}

func hasOperator(tokens []shellToken) bool {
	for _, tok := range tokens {
		if tok.op {
			return true
		}
	}
	return false
}

func isAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	for i := 0; i < eq; i++ {
		c := word[i]
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 0 && c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// substitutions returns the bodies of $(...) and `...` in command, outermost
// first. Single-quoted text is skipped.
func substitutions(command string) []string {
	var out []string
	inSingle := false
	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case c == '\\' && !inSingle:
			i++
		case c == '\'':
			inSingle = !inSingle
		case inSingle:
		case c == '`':
			if end := strings.IndexByte(command[i+1:], '`'); end >= 0 {
				out = append(out, command[i+1:i+1+end])
				i += end + 1
			}
		case c == '$' && i+1 < len(command) && command[i+1] == '(':
			depth := 0
			for j := i + 1; j < len(command); j++ {
				if command[j] == '(' {
					depth++
				} else if command[j] == ')' {
					depth--
					if depth == 0 {
						out = append(out, command[i+2:j])
						i = j
						break
					}
				}
			}
		}
	}
	return out
}
