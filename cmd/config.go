package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
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
	return filepath.Join(home, ".config", "lendchat"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage lendchat configuration.

Running bare 'lendchat config' is the same as 'lendchat config show'.
Every key can also be set from the environment with the LENDCHAT_ prefix,
e.g. LENDCHAT_WORKFLOW_MAX_IDLE=15m. A .env file in the working directory
is loaded first.`,
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
const configTemplate = `# lendchat configuration
# See: lendchat config show (for effective values and sources)

# State/data directory (default: ~/.config/lendchat)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/lendchat/lendchat.db)
# db_path: {{ .DBPath }}

# HTTP port for 'lendchat serve'
port: {{ .Port }}

# Anthropic (optional). Without an API key the keyword classifier and
# template replies are used. ANTHROPIC_API_KEY is also honoured.
anthropic:
  model: "{{ .AnthropicModel }}"
  # Outbound requests per second
  rate_per_second: {{ .AnthropicRate }}

workflow:
  language: "{{ .Language }}"
  # End the session after every answered turn (default: true).
  # Set to false to keep sessions open until they expire.
  end_after_turn: {{ .EndAfterTurn }}
  max_session: "{{ .MaxSession }}"
  max_idle: "{{ .MaxIdle }}"
  # What a classifier failure does: escalate or proceed
  intent_failure: "{{ .IntentFailure }}"

timeouts:
  classify: "{{ .TimeoutClassify }}"
  retrieve: "{{ .TimeoutRetrieve }}"
  generate: "{{ .TimeoutGenerate }}"
  persist: "{{ .TimeoutPersist }}"
  escalate: "{{ .TimeoutEscalate }}"

reply:
  currency: "{{ .Currency }}"

# Escalation email through Resend (optional). RESEND_API_KEY is also honoured.
escalation:
  email:
    from: "{{ .EmailFrom }}"
    to: []

webhook:
  # Token the GET verification handshake must present (empty accepts any)
  verify_token: ""
`

type configTemplateData struct {
	StateDir        string
	DBPath          string
	Port            int
	AnthropicModel  string
	AnthropicRate   float64
	Language        string
	EndAfterTurn    bool
	MaxSession      string
	MaxIdle         string
	IntentFailure   string
	TimeoutClassify string
	TimeoutRetrieve string
	TimeoutGenerate string
	TimeoutPersist  string
	TimeoutEscalate string
	Currency        string
	EmailFrom       string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:        viper.GetString("state_dir"),
		DBPath:          viper.GetString("db_path"),
		Port:            viper.GetInt("port"),
		AnthropicModel:  viper.GetString("anthropic.model"),
		AnthropicRate:   viper.GetFloat64("anthropic.rate_per_second"),
		Language:        viper.GetString("workflow.language"),
		EndAfterTurn:    viper.GetBool("workflow.end_after_turn"),
		MaxSession:      viper.GetDuration("workflow.max_session").String(),
		MaxIdle:         viper.GetDuration("workflow.max_idle").String(),
		IntentFailure:   viper.GetString("workflow.intent_failure"),
		TimeoutClassify: viper.GetDuration("timeouts.classify").String(),
		TimeoutRetrieve: viper.GetDuration("timeouts.retrieve").String(),
		TimeoutGenerate: viper.GetDuration("timeouts.generate").String(),
		TimeoutPersist:  viper.GetDuration("timeouts.persist").String(),
		TimeoutEscalate: viper.GetDuration("timeouts.escalate").String(),
		Currency:        viper.GetString("reply.currency"),
		EmailFrom:       viper.GetString("escalation.email.from"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "LENDCHAT_STATE_DIR"},
	{Key: "db_path", EnvVar: "LENDCHAT_DB_PATH"},
	{Key: "port", EnvVar: "LENDCHAT_PORT"},
	{Key: "anthropic.model", EnvVar: "LENDCHAT_ANTHROPIC_MODEL"},
	{Key: "anthropic.rate_per_second", EnvVar: "LENDCHAT_ANTHROPIC_RATE_PER_SECOND"},
	{Key: "workflow.language", EnvVar: "LENDCHAT_WORKFLOW_LANGUAGE"},
	{Key: "workflow.end_after_turn", EnvVar: "LENDCHAT_WORKFLOW_END_AFTER_TURN"},
	{Key: "workflow.max_session", EnvVar: "LENDCHAT_WORKFLOW_MAX_SESSION"},
	{Key: "workflow.max_idle", EnvVar: "LENDCHAT_WORKFLOW_MAX_IDLE"},
	{Key: "workflow.intent_failure", EnvVar: "LENDCHAT_WORKFLOW_INTENT_FAILURE"},
	{Key: "timeouts.classify", EnvVar: "LENDCHAT_TIMEOUTS_CLASSIFY"},
	{Key: "timeouts.retrieve", EnvVar: "LENDCHAT_TIMEOUTS_RETRIEVE"},
	{Key: "timeouts.generate", EnvVar: "LENDCHAT_TIMEOUTS_GENERATE"},
	{Key: "timeouts.persist", EnvVar: "LENDCHAT_TIMEOUTS_PERSIST"},
	{Key: "timeouts.escalate", EnvVar: "LENDCHAT_TIMEOUTS_ESCALATE"},
	{Key: "reply.currency", EnvVar: "LENDCHAT_REPLY_CURRENCY"},
	{Key: "escalation.email.from", EnvVar: "LENDCHAT_ESCALATION_EMAIL_FROM"},
	{Key: "escalation.email.to", EnvVar: "LENDCHAT_ESCALATION_EMAIL_TO"},
	{Key: "webhook.verify_token", EnvVar: "LENDCHAT_WEBHOOK_VERIFY_TOKEN"},
}

// secretKeys are shown only as set/unset.
var secretKeys = map[string]bool{"webhook.verify_token": true}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if secretKeys[k.Key] {
			val = redact(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-28s %v  %s\n", k.Key, val, source)
	}

	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "  %-28s %s\n", "anthropic api key", redact(anthropicKey()))
	fmt.Fprintf(ui.Out, "  %-28s %s\n", "resend api key", redact(resendKey()))

	return nil
}

func redact(v string) string {
	if v == "" {
		return "(unset)"
	}
	return "(set)"
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'lendchat config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
