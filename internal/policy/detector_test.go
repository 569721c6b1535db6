package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_DefaultsCompile(t *testing.T) {
	d := New()
	assert.Len(t, d.rules, len(DefaultRules))
}

func TestDetector_Check(t *testing.T) {
	d := New()

	tests := []struct {
		name      string
		code      string
		malicious bool
	}{
		{"plain pandas", "import pandas as pd\ntotal = df['x'].sum()", false},
		{"numpy alias list", "import numpy as np, math\nv = np.mean([1, 2])", false},
		{"matplotlib", "import matplotlib.pyplot as plt\nfig = plt.figure()", false},
		{"subprocess", "import subprocess\nsubprocess.run(['ls'])", true},
		{"from socket", "from socket import socket", true},
		{"dotted denied", "import urllib.request", true},
		{"os system", "import os\nos.system('rm -rf /')", true},
		{"eval", "x = eval('1+1')", true},
		{"dunder import", "m = __import__('os')", true},
		{"file write", "open('out.txt', 'w').write('x')", true},
		{"read etc", "open('/etc/passwd').read()", true},
		{"subclasses escape", "().__class__.__bases__[0].__subclasses__()", true},
		{"comment mention", "# import subprocess is not allowed\nx = 1", false},
		{"shutil rmtree", "import shutil\nshutil.rmtree('/tmp/x')", true},
		{"os path ok", "import os\np = os.path.join('a', 'b')", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			malicious, reason := d.Check(tt.code)
			assert.Equal(t, tt.malicious, malicious, "reason: %s", reason)
			if tt.malicious {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestDetector_LoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `malicious_code:
  rules:
    - pattern: 'rm\s+-rf'
      reason: "Destructive shell command"
  denied_imports:
    - pandas
  allowed_imports:
    - requests
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	d, err := Load(path)
	require.NoError(t, err)

	malicious, reason := d.Check("import pandas")
	assert.True(t, malicious)
	assert.Contains(t, reason, "pandas")

	malicious, _ = d.Check("import requests")
	assert.False(t, malicious)

	malicious, reason = d.Check("cmd = 'rm -rf x'")
	assert.True(t, malicious)
	assert.Equal(t, "Destructive shell command", reason)
}

func TestDetector_LoadConfigErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("malicious_code:\n  rules:\n    - pattern: '('\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestDetector_AllowAndDeny(t *testing.T) {
	d := New()
	d.AllowImport("sys")
	malicious, _ := d.Check("import sys")
	assert.False(t, malicious)

	d.DenyImport("scipy")
	malicious, _ = d.Check("from scipy import stats")
	assert.True(t, malicious)
}

func TestImportedModules(t *testing.T) {
	code := "import a.b as c, d\nfrom e.f import g\n  import h  # trailing\nx = 'import nope'"
	assert.Equal(t, []string{"a", "d", "e", "h"}, importedModules(code))
}

func TestDetector_AddRule(t *testing.T) {
	d := New()
	require.NoError(t, d.AddRule(Rule{Pattern: `requests\.post`}))

	malicious, reason := d.Check("requests.post(url, data=df.to_json())")
	assert.True(t, malicious)
	assert.Equal(t, `Matches policy rule requests\.post`, reason)

	assert.Error(t, d.AddRule(Rule{Pattern: "["}))
}
