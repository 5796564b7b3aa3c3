package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"MailScheduler/internal/csvparser"
	"MailScheduler/internal/errors"
)

// NewCommands returns the scheduled-email commands of mailctl.
func NewCommands(clientFn func() *Client, outputFn func() *Output) []*cobra.Command {
	return []*cobra.Command{
		newListCmd(clientFn, outputFn),
		newShowCmd(clientFn, outputFn),
		newCancelCmd(clientFn, outputFn),
		newSendCmd(clientFn, outputFn),
	}
}

var jobHeaders = []string{"ID", "STATUS", "SCHEDULED", "TEMPLATE", "RECIPIENTS"}

func jobRow(j ScheduledEmailResponse) []string {
	return []string{j.ID, j.Status, j.ScheduledTime, j.TemplateKey, strconv.Itoa(len(j.Recipients))}
}

func newListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the most recently scheduled emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := clientFn().ListScheduled()
			if err != nil {
				return err
			}

			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = jobRow(j)
			}

			outputFn().Print(jobHeaders, rows, jobs)
			return nil
		},
	}
}

func newShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a scheduled email and its per-recipient results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().GetScheduled(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(job)
				return nil
			}

			out.Table(jobHeaders, [][]string{jobRow(*job)})
			if job.Error != "" {
				out.Error(job.Error)
			}
			if len(job.Results) > 0 {
				rows := make([][]string, len(job.Results))
				for i, r := range job.Results {
					rows[i] = []string{r.Recipient, strconv.FormatBool(r.Success), r.Error}
				}
				fmt.Fprintln(out.w)
				out.Table([]string{"RECIPIENT", "SUCCESS", "ERROR"}, rows)
			}
			return nil
		},
	}
}

func newCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending scheduled email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := clientFn().CancelScheduled(args[0])
			if err != nil {
				return err
			}
			outputFn().Success(msg)
			return nil
		},
	}
}

func newSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var from, template, csvPath, at string
	var to, merge []string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a templated email now or schedule it with --at",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := SendTemplateRequest{
				SenderEmail: from,
				TemplateKey: template,
			}

			for _, s := range to {
				req.Recipients = append(req.Recipients, parseRecipient(s))
			}
			if csvPath != "" {
				rs, err := csvparser.ParseFile(csvPath, 0)
				if err != nil {
					return err
				}
				for _, r := range rs {
					req.Recipients = append(req.Recipients, RecipientDTO{Email: r.Email, Username: r.Username, Fields: r.Fields})
				}
			}
			if len(req.Recipients) == 0 {
				return errors.New("at least one recipient is required (--to or --csv)")
			}

			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return errors.Wrapf(err, "invalid --at %q, expected RFC 3339", at)
				}
				req.ScheduledTime = t.UTC().Format(time.RFC3339)
			}

			mergeInfo, err := parseMerge(merge)
			if err != nil {
				return err
			}
			req.MergeInfo = mergeInfo

			res, err := clientFn().SendTemplate(req)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(res.Message)
			if res.JobID != "" {
				out.Print([]string{"JOB_ID"}, [][]string{{res.JobID}}, res)
				return nil
			}

			rows := make([][]string, len(res.Results))
			for i, r := range res.Results {
				rows[i] = []string{r.Recipient, strconv.FormatBool(r.Success), r.Error}
			}
			out.Print([]string{"RECIPIENT", "SUCCESS", "ERROR"}, rows, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Sender email address")
	cmd.Flags().StringVar(&template, "template", "", "Mail template key")
	cmd.Flags().StringArrayVar(&to, "to", nil, "Recipient as EMAIL or EMAIL:NAME (repeatable)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file with an Email column and an optional Name column")
	cmd.Flags().StringVar(&at, "at", "", "Send time in RFC 3339; sends immediately when empty")
	cmd.Flags().StringArrayVar(&merge, "merge", nil, "Template parameter as KEY=VALUE (repeatable)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("template")

	return cmd
}

// parseRecipient parses EMAIL or EMAIL:NAME.
func parseRecipient(s string) RecipientDTO {
	addr, name, _ := strings.Cut(s, ":")
	return RecipientDTO{Email: strings.TrimSpace(addr), Username: strings.TrimSpace(name)}
}

func parseMerge(kvs []string) (map[string]any, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, errors.Newf("invalid merge value %q, expected KEY=VALUE", kv)
		}
		out[k] = v
	}
	return out, nil
}
