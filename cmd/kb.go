package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/output"
)

var kbSearchLimit int

var kbCmd = &cobra.Command{
	Use:     "kb",
	Aliases: []string{"knowledge"},
	Short:   "Manage the shared knowledge base",
	Long:    "Add, list, and search the policy and FAQ documents used to ground replies.",
}

var kbAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a knowledge base document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return kbAddRun()
	},
}

var kbListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List active knowledge base documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return kbListRun()
	},
}

var kbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base the way the assistant does",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return kbSearchRun(strings.Join(args, " "))
	},
}

func init() {
	addDocFlags(kbAddCmd, string(models.DocumentTypeFAQ))
	kbSearchCmd.Flags().IntVar(&kbSearchLimit, "limit", 5, "Maximum results")

	kbCmd.AddCommand(kbAddCmd)
	kbCmd.AddCommand(kbListCmd)
	kbCmd.AddCommand(kbSearchCmd)
	rootCmd.AddCommand(kbCmd)
}

func kbAddRun() error {
	doc, err := documentFromFlags()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.CreateKnowledgeDocument(context.Background(), doc); err != nil {
		return err
	}
	ui.Success("Added %q to the knowledge base (%s)", doc.Title, output.Cyan(doc.ID))
	return nil
}

func kbListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	docs, err := s.ListKnowledgeDocuments(context.Background())
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		ui.Info("Knowledge base is empty. Use 'lendchat kb add' to add a document.")
		return nil
	}
	printDocs(docs)
	return nil
}

func kbSearchRun(query string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	docs, err := s.SearchKnowledge(context.Background(), query, kbSearchLimit)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		ui.Info("No documents match %q", query)
		return nil
	}
	printDocs(docs)
	return nil
}

func printDocs(docs []models.Document) {
	table := ui.Table([]string{"ID", "Title", "Type", "Category", "Preview"})
	for _, d := range docs {
		_ = table.Append([]string{
			output.Cyan(d.ID),
			d.Title,
			string(d.Type),
			d.Category,
			preview(d.Content, 48),
		})
	}
	_ = table.Render()
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string(r[:n]))
}
