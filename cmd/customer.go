package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/lendchat/internal/models"
	"github.com/joescharf/lendchat/internal/output"
	"github.com/joescharf/lendchat/internal/reply"
	"github.com/joescharf/lendchat/internal/retrieval"
)

var (
	loanAmount float64
	loanStatus string
	loanRate   float64
	loanDue    string

	paymentLoan   string
	paymentAmount float64
	paymentStatus string
	paymentMethod string
	paymentDue    string
	paymentPaid   string

	docTitle    string
	docType     string
	docCategory string
	docContent  string
	docFile     string
)

var customerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Inspect and seed customer records",
	Long:  "Show a customer's segment, loans, and payments, or add records for testing and onboarding.",
}

var customerShowCmd = &cobra.Command{
	Use:   "show <customer-id>",
	Short: "Show a customer's segment, loans, and payments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return customerShowRun(args[0])
	},
}

var customerAddLoanCmd = &cobra.Command{
	Use:   "add-loan <customer-id>",
	Short: "Record a loan for a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return customerAddLoanRun(args[0])
	},
}

var customerAddPaymentCmd = &cobra.Command{
	Use:   "add-payment <customer-id>",
	Short: "Record a scheduled or settled payment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return customerAddPaymentRun(args[0])
	},
}

var customerAddDocCmd = &cobra.Command{
	Use:   "add-doc <customer-id>",
	Short: "Attach a document to a customer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return customerAddDocRun(args[0])
	},
}

func init() {
	customerAddLoanCmd.Flags().Float64Var(&loanAmount, "amount", 0, "Loan amount")
	customerAddLoanCmd.Flags().StringVar(&loanStatus, "status", "active", "Loan status (active, paid, defaulted)")
	customerAddLoanCmd.Flags().Float64Var(&loanRate, "rate", 0, "Interest rate in percent")
	customerAddLoanCmd.Flags().StringVar(&loanDue, "due", "", "Due date (YYYY-MM-DD)")
	_ = customerAddLoanCmd.MarkFlagRequired("amount")

	customerAddPaymentCmd.Flags().StringVar(&paymentLoan, "loan", "", "Loan ID the payment belongs to")
	customerAddPaymentCmd.Flags().Float64Var(&paymentAmount, "amount", 0, "Payment amount")
	customerAddPaymentCmd.Flags().StringVar(&paymentStatus, "status", "pending", "Payment status (pending, completed, failed)")
	customerAddPaymentCmd.Flags().StringVar(&paymentMethod, "method", "debit_order", "Payment method")
	customerAddPaymentCmd.Flags().StringVar(&paymentDue, "due", "", "Due date (YYYY-MM-DD)")
	customerAddPaymentCmd.Flags().StringVar(&paymentPaid, "paid", "", "Date paid (YYYY-MM-DD)")
	_ = customerAddPaymentCmd.MarkFlagRequired("amount")
	_ = customerAddPaymentCmd.MarkFlagRequired("due")

	addDocFlags(customerAddDocCmd, string(models.DocumentTypeLoanAgreement))

	customerCmd.AddCommand(customerShowCmd)
	customerCmd.AddCommand(customerAddLoanCmd)
	customerCmd.AddCommand(customerAddPaymentCmd)
	customerCmd.AddCommand(customerAddDocCmd)
	rootCmd.AddCommand(customerCmd)
}

// addDocFlags registers the document flags shared by customer add-doc and kb add.
func addDocFlags(c *cobra.Command, defaultType string) {
	c.Flags().StringVar(&docTitle, "title", "", "Document title")
	c.Flags().StringVar(&docType, "type", defaultType, "Document type (loan_agreement, policy, faq, correspondence, payment_history)")
	c.Flags().StringVar(&docCategory, "category", "", "Category")
	c.Flags().StringVar(&docContent, "content", "", "Document text")
	c.Flags().StringVar(&docFile, "file", "", "Read document text from a file")
	_ = c.MarkFlagRequired("title")
}

func parseDate(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: want YYYY-MM-DD, got %q", flag, v)
	}
	return t, nil
}

func documentFromFlags() (*models.Document, error) {
	content := docContent
	if docFile != "" {
		data, err := os.ReadFile(docFile)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", docFile, err)
		}
		content = string(data)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("document content is empty; use --content or --file")
	}
	return &models.Document{
		Title:    docTitle,
		Type:     models.DocumentType(docType),
		Category: docCategory,
		Content:  content,
		Language: viper.GetString("workflow.language"),
		Active:   true,
	}, nil
}

func customerShowRun(customerID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	cc, err := retrieval.New(s, retrieval.WithLogger(cliLogger())).Retrieve(context.Background(), customerID, "")
	if err != nil {
		return err
	}
	currency := viper.GetString("reply.currency")

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(customerID), output.SegmentColor(string(retrieval.SegmentContext(cc))))
	fmt.Fprintf(ui.Out, "  Total borrowed: %s across %d loan(s)\n", reply.Money(currency, cc.TotalLoanAmount()), len(cc.LoanHistory))
	fmt.Fprintln(ui.Out)

	if len(cc.LoanHistory) == 0 {
		ui.Info("No loans on record.")
	} else {
		table := ui.Table([]string{"Loan", "Amount", "Status", "Rate", "Due"})
		for _, l := range cc.LoanHistory {
			_ = table.Append([]string{
				l.ID,
				reply.Money(currency, l.Amount),
				l.Status,
				fmt.Sprintf("%.1f%%", l.InterestRate),
				formatDate(l.DueDate),
			})
		}
		_ = table.Render()
	}
	fmt.Fprintln(ui.Out)

	if len(cc.PaymentHistory) == 0 {
		ui.Info("No payments on record.")
	} else {
		table := ui.Table([]string{"Payment", "Amount", "Status", "Due", "Paid", "Late"})
		for _, p := range cc.PaymentHistory {
			paid, late := "", ""
			if p.PaidDate != nil {
				paid = formatDate(*p.PaidDate)
			}
			if p.Late() {
				late = output.Red("late")
			}
			_ = table.Append([]string{
				p.ID,
				reply.Money(currency, p.Amount),
				string(p.Status),
				formatDate(p.DueDate),
				paid,
				late,
			})
		}
		_ = table.Render()
	}

	if len(cc.RelevantDocuments) > 0 {
		fmt.Fprintln(ui.Out)
		ui.Info("Documents:")
		for _, d := range cc.RelevantDocuments {
			fmt.Fprintf(ui.Out, "  %s (%s)\n", d.Title, d.Type)
		}
	}
	if len(cc.ConversationHistory) > 0 {
		fmt.Fprintln(ui.Out)
		ui.Info("Recent conversations:")
		for _, e := range cc.ConversationHistory {
			state := output.Green("resolved")
			if !e.Resolved {
				state = output.Red("escalated")
			}
			fmt.Fprintf(ui.Out, "  %s  %s  %s\n", e.Timestamp.Local().Format("2006-01-02"), state, e.Content)
		}
	}
	return nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02")
}

func customerAddLoanRun(customerID string) error {
	due, err := parseDate("due", loanDue)
	if err != nil {
		return err
	}
	if loanAmount <= 0 {
		return fmt.Errorf("--amount must be positive")
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	loan := &models.Loan{
		CustomerID:   customerID,
		Amount:       loanAmount,
		Status:       loanStatus,
		InterestRate: loanRate,
		DueDate:      due,
	}
	if err := s.CreateLoan(context.Background(), loan); err != nil {
		return err
	}
	ui.Success("Recorded loan %s of %s for %s", output.Cyan(loan.ID),
		reply.Money(viper.GetString("reply.currency"), loan.Amount), customerID)
	return nil
}

func customerAddPaymentRun(customerID string) error {
	due, err := parseDate("due", paymentDue)
	if err != nil {
		return err
	}
	paidAt, err := parseDate("paid", paymentPaid)
	if err != nil {
		return err
	}
	if paymentAmount <= 0 {
		return fmt.Errorf("--amount must be positive")
	}

	p := &models.Payment{
		CustomerID: customerID,
		LoanID:     paymentLoan,
		Amount:     paymentAmount,
		Status:     models.PaymentStatus(paymentStatus),
		Method:     paymentMethod,
		DueDate:    due,
	}
	if !paidAt.IsZero() {
		p.PaidDate = &paidAt
		if paymentStatus == string(models.PaymentStatusPending) {
			p.Status = models.PaymentStatusCompleted
		}
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.CreatePayment(context.Background(), p); err != nil {
		return err
	}
	ui.Success("Recorded %s payment %s for %s", p.Status, output.Cyan(p.ID), customerID)
	return nil
}

func customerAddDocRun(customerID string) error {
	doc, err := documentFromFlags()
	if err != nil {
		return err
	}
	doc.CustomerID = customerID

	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.CreateCustomerDocument(context.Background(), doc); err != nil {
		return err
	}
	ui.Success("Attached %q to %s", doc.Title, customerID)
	return nil
}
