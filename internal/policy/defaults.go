// Package policy flags generated code that must never reach the sandbox.
package policy

// Rule is a regular expression that marks code as malicious.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// DefaultRules catch process, filesystem, network and interpreter escapes
// that are not expressed through an import statement.
var DefaultRules = []Rule{
	{Pattern: `\bos\.(system|popen|exec[lv]p?e?|spawn[lv]p?e?|fork|kill|remove|unlink|rmdir|removedirs|chmod|chown)\s*\(`, Reason: "Process or filesystem manipulation"},
	{Pattern: `\bshutil\.(rmtree|move|copy|copytree|chown)\s*\(`, Reason: "Filesystem manipulation"},
	{Pattern: `\b(eval|exec|compile)\s*\(`, Reason: "Dynamic code execution"},
	{Pattern: `\b__import__\s*\(`, Reason: "Dynamic import"},
	{Pattern: `\bimportlib\.`, Reason: "Dynamic import"},
	{Pattern: `\bopen\s*\([^)]*['"][wax]\+?b?['"]`, Reason: "File write"},
	{Pattern: `\bopen\s*\(\s*['"]/(etc|proc|sys|dev|root|home)/`, Reason: "Access to system files"},
	{Pattern: `__(subclasses|globals|builtins|code|class)__`, Reason: "Interpreter introspection escape"},
	{Pattern: `\bgetattr\s*\(\s*__builtins__`, Reason: "Interpreter introspection escape"},
	{Pattern: `\bbreakpoint\s*\(`, Reason: "Debugger entry"},
}

// DefaultDeniedImports are top-level modules generated code may not import.
var DefaultDeniedImports = []string{
	"subprocess",
	"socket",
	"ctypes",
	"multiprocessing",
	"threading",
	"signal",
	"pty",
	"requests",
	"urllib",
	"http",
	"ftplib",
	"smtplib",
	"telnetlib",
	"paramiko",
	"pickle",
	"marshal",
	"shelve",
	"importlib",
	"builtins",
	"sys",
	"resource",
	"asyncio",
	"webbrowser",
}
