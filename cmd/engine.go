package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/joescharf/lendchat/internal/escalation"
	"github.com/joescharf/lendchat/internal/intent"
	"github.com/joescharf/lendchat/internal/llm"
	"github.com/joescharf/lendchat/internal/reply"
	"github.com/joescharf/lendchat/internal/retrieval"
	"github.com/joescharf/lendchat/internal/store"
	"github.com/joescharf/lendchat/internal/workflow"
)

// anthropicKey and resendKey prefer the config file over the providers'
// conventional env vars.
func anthropicKey() string {
	return firstSet(viper.GetString("anthropic.api_key"), os.Getenv("ANTHROPIC_API_KEY"))
}

func resendKey() string {
	return firstSet(viper.GetString("escalation.email.api_key"), os.Getenv("RESEND_API_KEY"))
}

// newLLMClient returns nil when no Anthropic key is configured.
func newLLMClient() *llm.Client {
	key := anthropicKey()
	if key == "" {
		return nil
	}
	return llm.NewClient(key, viper.GetString("anthropic.model"), viper.GetFloat64("anthropic.rate_per_second"))
}

// workflowOptions maps configuration onto engine options.
func workflowOptions(logger *slog.Logger) (workflow.Options, error) {
	o := workflow.DefaultOptions()
	o.Language = viper.GetString("workflow.language")
	o.EndAfterTurn = viper.GetBool("workflow.end_after_turn")
	o.MaxSessionDuration = viper.GetDuration("workflow.max_session")
	o.MaxIdle = viper.GetDuration("workflow.max_idle")

	switch p := workflow.IntentFailurePolicy(strings.ToLower(viper.GetString("workflow.intent_failure"))); p {
	case workflow.IntentFailureEscalate, workflow.IntentFailureProceed:
		o.IntentFailure = p
	default:
		return o, fmt.Errorf("workflow.intent_failure: unknown policy %q (want escalate or proceed)", p)
	}

	o.Timeouts = workflow.Timeouts{
		Classify: viper.GetDuration("timeouts.classify"),
		Retrieve: viper.GetDuration("timeouts.retrieve"),
		Generate: viper.GetDuration("timeouts.generate"),
		Persist:  viper.GetDuration("timeouts.persist"),
		Escalate: viper.GetDuration("timeouts.escalate"),
	}
	o.Logger = logger
	return o, nil
}

// emailRecipients accepts a YAML list or a comma separated env value.
func emailRecipients() []string {
	var out []string
	for _, v := range viper.GetStringSlice("escalation.email.to") {
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// escalationSink fans out to the log, the escalations table, and email when
// a Resend key and addresses are configured.
func escalationSink(s store.Store, logger *slog.Logger) escalation.Sink {
	sinks := []escalation.Sink{escalation.NewLogSink(logger), escalation.NewStoreSink(s)}

	if apiKey := resendKey(); apiKey != "" {
		email, err := escalation.NewEmailSink(apiKey, viper.GetString("escalation.email.from"), emailRecipients())
		if err != nil {
			logger.Warn("email escalation disabled", "error", err)
		} else {
			sinks = append(sinks, email)
		}
	}
	return escalation.Multi(sinks...)
}

// buildEngine wires the conversation engine from configuration. Without an
// Anthropic key the keyword classifier and template replies are used.
func buildEngine(s store.Store, logger *slog.Logger) (*workflow.Engine, *retrieval.Retriever, error) {
	opts, err := workflowOptions(logger)
	if err != nil {
		return nil, nil, err
	}

	r := retrieval.New(s, retrieval.WithLogger(logger))
	currency := viper.GetString("reply.currency")

	var (
		classifier intent.Classifier = intent.NewKeyword()
		generator  reply.Generator   = reply.NewTemplate(currency)
	)
	if client := newLLMClient(); client != nil {
		classifier = intent.Fallback(intent.NewLLM(client), intent.NewKeyword())
		generator = reply.NewLLM(client, currency)
		logger.Debug("using anthropic model", "model", viper.GetString("anthropic.model"))
	}

	engine := workflow.New(classifier, r, generator, s, escalationSink(s, logger), opts)
	return engine, r, nil
}
