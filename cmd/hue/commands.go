package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
)

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Vérifie que le serveur répond",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := opts.client().get(cmd.Context(), "/health", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Version du serveur",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out map[string]any
			if err := opts.client().get(cmd.Context(), "/version", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newDownloadCommand(opts *rootOptions) *cobra.Command {
	var req app.DownloadRequest
	var wait bool
	var pollEvery time.Duration

	cmd := &cobra.Command{
		Use:   "download <link>",
		Short: "Met en file le téléchargement d'un épisode ou d'une plage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Link = args[0]
			var st app.CommandStatus
			if err := opts.client().post(cmd.Context(), "/download", req, &st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.Message)
			if !wait || st.Job == nil {
				return nil
			}
			return waitJob(cmd.Context(), cmd.OutOrStdout(), opts.client(), st.Job.ID, pollEvery)
		},
	}
	cmd.Flags().StringVarP(&req.Episodes, "episodes", "e", "", "Épisode N ou plage N-M (défaut: l'épisode du lien)")
	cmd.Flags().BoolVar(&req.Dub, "dub", false, "Version doublée")
	cmd.Flags().BoolVar(&req.Follow, "follow", false, "Suivre la série après la plage")
	cmd.Flags().BoolVar(&req.Notify, "notify", false, "Notifier les nouveaux épisodes (avec --follow)")
	cmd.Flags().StringVar(&req.Subscriber, "subscriber", "", "Identifiant de l'abonné")
	cmd.Flags().BoolVar(&wait, "wait", false, "Attendre la fin du job et sortir avec son code")
	cmd.Flags().DurationVar(&pollEvery, "poll", 2*time.Second, "Intervalle de suivi avec --wait")
	return cmd
}

// waitJob suit un job jusqu'à un état terminal et traduit son résultat en code de sortie.
func waitJob(ctx context.Context, w io.Writer, c *apiClient, id string, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := -1.0
	for {
		var job app.JobDTO
		if err := c.get(ctx, "/jobs/"+url.PathEscape(id), nil, &job); err != nil {
			return err
		}
		if job.Progress != last {
			fmt.Fprintf(w, "%s: %s %.0f%%\n", job.ID, job.State, job.Progress*100)
			last = job.Progress
		}
		if job.State.IsTerminal() {
			return jobExit(w, job)
		}
		select {
		case <-ctx.Done():
			return &exitError{code: domain.ExitCancelled, msg: "interrupted; the job keeps running on the server"}
		case <-ticker.C:
		}
	}
}

func jobExit(w io.Writer, job app.JobDTO) error {
	if job.State == domain.JobCanceled {
		return &exitError{code: domain.ExitCancelled, msg: "job canceled"}
	}
	var res app.RangeResult
	if len(job.Result) > 0 && json.Unmarshal(job.Result, &res) == nil && res.Outcome != "" {
		printRange(w, res)
		if res.ExitCode != domain.ExitOK {
			return &exitError{code: res.ExitCode, msg: job.Error}
		}
		return nil
	}
	if job.State == domain.JobFailed {
		return &exitError{code: domain.ExitFailed, msg: job.Error}
	}
	return nil
}

func printRange(w io.Writer, res app.RangeResult) {
	rows := make([][]string, 0, len(res.Episodes))
	for _, e := range res.Episodes {
		size := ""
		if e.Size > 0 {
			size = humanize.Bytes(uint64(e.Size))
		}
		rows = append(rows, []string{strconv.Itoa(e.Episode), string(e.Outcome), strconv.Itoa(e.Attempts), size, e.Reason})
	}
	title := res.Title
	if title == "" {
		title = res.SeriesID
	}
	fmt.Fprintf(w, "%s: %s\n", title, res.Outcome)
	fmt.Fprintln(w, renderTable([]string{"Episode", "Outcome", "Attempts", "Size", "Reason"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft}))
}

func newFollowCommands(opts *rootOptions) []*cobra.Command {
	// notifyFlag vide = pas d'option de notification.
	mk := func(use, short, method, path, notifyFlag string, notifyDefault bool) *cobra.Command {
		var req app.FollowRequest
		cmd := &cobra.Command{
			Use:   use + " <link>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				req.Link = args[0]
				var st app.CommandStatus
				if err := opts.client().do(cmd.Context(), method, path, nil, req, &st); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", st.Status, st.Message)
				return nil
			},
		}
		cmd.Flags().BoolVar(&req.Dub, "dub", false, "Version doublée")
		cmd.Flags().StringVar(&req.Subscriber, "subscriber", envOr("HUE_SUBSCRIBER", ""), "Identifiant de l'abonné")
		if notifyFlag != "" {
			cmd.Flags().BoolVar(&req.Notify, notifyFlag, notifyDefault, "Notifier l'abonné des nouveaux épisodes")
		}
		return cmd
	}

	follows := &cobra.Command{
		Use:   "follows",
		Short: "Séries suivies par un abonné",
		Args:  cobra.NoArgs,
	}
	var subscriber string
	follows.Flags().StringVar(&subscriber, "subscriber", envOr("HUE_SUBSCRIBER", ""), "Identifiant de l'abonné")
	follows.RunE = func(cmd *cobra.Command, args []string) error {
		var list []app.FollowDTO
		if err := opts.client().get(cmd.Context(), "/follows", url.Values{"subscriber": {subscriber}}, &list); err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, f := range list {
			rows = append(rows, []string{f.SeriesID, string(f.Variant), strconv.FormatBool(f.Notify)})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Series", "Variant", "Notify"}, rows, nil))
		return nil
	}

	return []*cobra.Command{
		mk("follow", "Suivre une série (les nouveaux épisodes seront téléchargés)", http.MethodPost, "/follow", "notify", false),
		mk("notify", "Activer ou couper les notifications (--on=false pour couper)", http.MethodPost, "/notify", "on", true),
		mk("unfollow", "Ne plus suivre une série", http.MethodDelete, "/follow", "", false),
		follows,
	}
}

func newJobsCommand(opts *rootOptions) *cobra.Command {
	var state, jobType string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Liste les jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if state != "" {
				q.Set("state", state)
			}
			if jobType != "" {
				q.Set("type", jobType)
			}
			var jobs []app.JobDTO
			if err := opts.client().get(cmd.Context(), "/jobs", q, &jobs); err != nil {
				return err
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID, j.Type, j.Target, string(j.State),
					fmt.Sprintf("%.0f%%", j.Progress*100),
					humanize.Time(j.UpdatedAt),
					j.ErrorCode,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Type", "Target", "State", "Progress", "Updated", "Error"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filtrer par état (queued, running, completed, failed, canceled)")
	cmd.Flags().StringVar(&jobType, "type", "", "Filtrer par type (download, follow)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Nombre max de jobs")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Détail d'un job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job app.JobDTO
			if err := opts.client().get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]), nil, &job); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
	}
	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Annule un job en file ou en cours",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job app.JobDTO
			if err := opts.client().post(cmd.Context(), "/jobs/"+url.PathEscape(args[0])+"/cancel", nil, &job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", job.ID, job.State)
			return nil
		},
	}
	var every time.Duration
	wait := &cobra.Command{
		Use:   "wait <id>",
		Short: "Attend la fin d'un job et sort avec son code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return waitJob(cmd.Context(), cmd.OutOrStdout(), opts.client(), args[0], every)
		},
	}
	wait.Flags().DurationVar(&every, "poll", 2*time.Second, "Intervalle de suivi")

	cmd.AddCommand(show, cancel, wait)
	return cmd
}

func newSeriesCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Séries connues du catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []app.SeriesDTO
			if err := opts.client().get(cmd.Context(), "/series", url.Values{"limit": {strconv.Itoa(limit)}}, &list); err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, s := range list {
				next := ""
				if s.NextEpisodeTime != nil {
					next = fmt.Sprintf("ep %d %s", s.NextEpisodeNumber, humanize.Time(*s.NextEpisodeTime))
				}
				rows = append(rows, []string{
					s.SeriesID, string(s.Variant), s.Title,
					strconv.Itoa(s.Season),
					fmt.Sprintf("%d/%d", s.EpisodesAired, s.EpisodeCount),
					next,
					strconv.FormatBool(s.DownloadFailed),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"ID", "Variant", "Title", "Season", "Aired", "Next", "Failed"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Nombre max de séries")

	var dub bool
	episodes := &cobra.Command{
		Use:   "episodes <id>",
		Short: "Épisodes connus d'une série",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"variant": {string(domain.ParseVariant(dub))}}
			var eps []app.EpisodeDTO
			if err := opts.client().get(cmd.Context(), "/series/"+url.PathEscape(args[0])+"/episodes", q, &eps); err != nil {
				return err
			}
			rows := make([][]string, 0, len(eps))
			for _, e := range eps {
				rows = append(rows, []string{strconv.Itoa(e.Number), e.Title, strconv.FormatBool(e.Downloaded)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Episode", "Title", "Downloaded"}, rows,
				[]columnAlignment{alignRight}))
			return nil
		},
	}
	episodes.Flags().BoolVar(&dub, "dub", false, "Version doublée")
	cmd.AddCommand(episodes)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
