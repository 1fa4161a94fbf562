package tools

// Kind is the closed set of tools the dispatcher routes. Anything else parses
// to KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota
	KindNone
	KindComplete
	KindDumpState
	KindExecuteCode
	KindExecuteShell
	KindReadFile
	KindWriteFile
	KindAppendToFile
	KindInsertInFile
	KindDeleteFile
	KindListDir
	KindScanWorkspace
	KindReplaceInFile
	KindRemoteExecute
	KindListAgents
)

var kindNames = [...]string{
	KindUnknown:       "unknown",
	KindNone:          "none",
	KindComplete:      "complete",
	KindDumpState:     "dump_state",
	KindExecuteCode:   "execute_code",
	KindExecuteShell:  "execute_shell",
	KindReadFile:      "read_file",
	KindWriteFile:     "write_file",
	KindAppendToFile:  "append_to_file",
	KindInsertInFile:  "insert_in_file",
	KindDeleteFile:    "delete_file",
	KindListDir:       "list_dir",
	KindScanWorkspace: "scan_workspace",
	KindReplaceInFile: "replace_in_file",
	KindRemoteExecute: "remote_execute",
	KindListAgents:    "list_agents",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		if Kind(k) != KindUnknown {
			m[name] = Kind(k)
		}
	}
	return m
}()

// ParseKind maps a tool name onto its Kind.
func ParseKind(name string) Kind {
	if k, ok := kindsByName[name]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames)-1)
	for k := KindNone; int(k) < len(kindNames); k++ {
		out = append(out, k)
	}
	return out
}
