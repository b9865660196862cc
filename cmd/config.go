package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "cloudvoice"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage cloudvoice configuration.

Running bare 'cloudvoice config' is the same as 'cloudvoice config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# cloudvoice configuration
# See: cloudvoice config show (for effective values and sources)

# State directory for the history file and background backend (default: ~/.config/cloudvoice)
# state_dir: {{ .StateDir }}

# SQLite archive of event-log entries (default: ~/.config/cloudvoice/cloudvoice.db)
# db_path: {{ .DBPath }}

# Agent backend
agent:
  # POST endpoint that answers {"prompt", "approved"} requests
  endpoint: "{{ .AgentEndpoint }}"

# Speech capabilities
speech:
  # Recognition language passed to the capture command
  language: "{{ .SpeechLanguage }}"

  # Command that records one utterance and prints the transcript on stdout.
  # Empty disables speech capture (typed input still works).
  capture_cmd: "{{ .CaptureCmd }}"

  # Command that speaks its last argument aloud. Empty keeps output silent.
  output_cmd: "{{ .OutputCmd }}"

# Event log
log:
  # Entries kept in memory per session (default: 500)
  capacity: {{ .LogCapacity }}

  # Archive every entry to the SQLite database (default: true)
  archive: {{ .LogArchive }}

# Development backend (cloudvoice backend)
backend:
  port: {{ .BackendPort }}
  allowed_origin: "{{ .AllowedOrigin }}"

# Intent classification for the development backend.
# Without an API key the backend routes prompts with keyword rules.
anthropic:
  # api_key: ""
  model: "{{ .AnthropicModel }}"

# Knowledge base persistence directory; empty keeps it in memory
knowledge:
  persist_path: "{{ .KnowledgePath }}"
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	AgentEndpoint  string
	SpeechLanguage string
	CaptureCmd     string
	OutputCmd      string
	LogCapacity    int
	LogArchive     bool
	BackendPort    int
	AllowedOrigin  string
	AnthropicModel string
	KnowledgePath  string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

var configTmpl = template.Must(template.New("config").Parse(configTemplate))

// renderConfig fills the commented config file from the effective settings.
func renderConfig() ([]byte, error) {
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		AgentEndpoint:  viper.GetString("agent.endpoint"),
		SpeechLanguage: viper.GetString("speech.language"),
		CaptureCmd:     viper.GetString("speech.capture_cmd"),
		OutputCmd:      viper.GetString("speech.output_cmd"),
		LogCapacity:    viper.GetInt("log.capacity"),
		LogArchive:     viper.GetBool("log.archive"),
		BackendPort:    viper.GetInt("backend.port"),
		AllowedOrigin:  viper.GetString("backend.allowed_origin"),
		AnthropicModel: viper.GetString("anthropic.model"),
		KnowledgePath:  viper.GetString("knowledge.persist_path"),
	}

	var buf bytes.Buffer
	if err := configTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return buf.Bytes(), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	content, err := renderConfig()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
	} else {
		if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		// The file may hold an API key.
		if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		ui.Success("Config file created: %s", cfgPath)
	}

	fmt.Fprintln(ui.Out)
	_, err = ui.Out.Write(content)
	return err
}

// configKey is one setting shown by 'config show'.
type configKey struct {
	Key    string
	Secret bool
}

var configKeys = []configKey{
	{Key: "state_dir"},
	{Key: "db_path"},
	{Key: "agent.endpoint"},
	{Key: "speech.language"},
	{Key: "speech.capture_cmd"},
	{Key: "speech.output_cmd"},
	{Key: "log.capacity"},
	{Key: "log.archive"},
	{Key: "backend.port"},
	{Key: "backend.allowed_origin"},
	{Key: "anthropic.api_key", Secret: true},
	{Key: "anthropic.model"},
	{Key: "knowledge.persist_path"},
}

// envVarFor returns the environment variable viper consults for key.
func envVarFor(key string) string {
	return "CLOUDVOICE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	fileKeys, err := configFileKeys(cfgPath)
	switch {
	case err != nil:
		ui.Warning("%v", err)
	case fileKeys == nil:
		ui.Info("Config file: (none)")
	default:
		ui.Info("Config file: %s", cfgPath)
	}

	table := ui.Table([]string{"Key", "Value", "Source"})
	for _, k := range configKeys {
		val := fmt.Sprint(viper.Get(k.Key))
		if k.Secret && val != "" {
			val = "********"
		}
		_ = table.Append([]string{k.Key, val, detectSource(k.Key, fileKeys)})
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, key := range unknownKeys(fileKeys) {
		ui.Warning("Unknown key in config file: %s", key)
	}
	return nil
}

// configFileKeys returns the dotted keys set in the config file, or nil when
// the file does not exist.
func configFileKeys(path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config file %s is not valid YAML: %w", path, err)
	}

	keys := make(map[string]bool)
	collectKeys("", doc, keys)
	return keys, nil
}

// collectKeys records the leaf keys of a nested YAML map in dot notation.
func collectKeys(prefix string, m map[string]any, keys map[string]bool) {
	for name, val := range m {
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if nested, ok := val.(map[string]any); ok {
			collectKeys(key, nested, keys)
			continue
		}
		keys[key] = true
	}
}

// unknownKeys lists file keys that no setting reads, sorted.
func unknownKeys(fileKeys map[string]bool) []string {
	known := make(map[string]bool, len(configKeys))
	for _, k := range configKeys {
		known[k.Key] = true
	}
	var out []string
	for key := range fileKeys {
		if !known[key] {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// detectSource reports where the effective value of key comes from.
func detectSource(key string, fileKeys map[string]bool) string {
	if env := envVarFor(key); os.Getenv(env) != "" {
		return "env " + env
	}
	if fileKeys[key] {
		return "file"
	}
	return "default"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	args := strings.Fields(editor)
	if len(args) == 0 {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'cloudvoice config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(args[0], append(args[1:], cfgPath)...)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	if err := editCmd.Run(); err != nil {
		return fmt.Errorf("editor %s: %w", args[0], err)
	}

	fileKeys, err := configFileKeys(cfgPath)
	if err != nil {
		return err
	}
	for _, key := range unknownKeys(fileKeys) {
		ui.Warning("Unknown key in config file: %s", key)
	}
	return nil
}
