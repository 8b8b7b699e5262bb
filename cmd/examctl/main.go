package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam/internal/client"
	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/exam"
	"github.com/stemsi/exstem-exam/internal/logger"
	"github.com/stemsi/exstem-exam/internal/model"
	"golang.org/x/term"
)

func main() {
	email := flag.String("email", "", "Account email")
	examFlag := flag.String("exam", "", "Exam ID (lists exams when empty)")
	flag.Parse()

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := bufio.NewReader(os.Stdin)
	if *email == "" {
		*email = ask(in, "Email: ")
	}
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fail("read password: %v", err)
	}

	api := client.New(cfg.APIBaseURL, client.WithLogger(log))
	me, err := api.Login(ctx, *email, string(pw))
	if err != nil {
		fail("login: %v", err)
	}
	fmt.Printf("Signed in as %s\n\n", me.User.Name)

	examID, err := pickExam(ctx, api, in, *examFlag)
	if err != nil {
		fail("%v", err)
	}

	if err := run(ctx, api, in, examID, cfg, log); err != nil {
		fail("%v", err)
	}
}

// ─── Session ────────────────────────────────────────────────────────

func run(ctx context.Context, api *client.Client, in *bufio.Reader, examID uuid.UUID, cfg *config.Config, log zerolog.Logger) error {
	submitted := make(chan struct{}, 1)
	clock := &exam.RealClock{}
	loader := exam.NewLoader(api, log)

	eng, err := exam.Begin(ctx, loader, examID,
		exam.WithClock(clock),
		exam.WithTickInterval(cfg.TickInterval),
		exam.WithLogger(log),
		exam.WithSubmitHandler(func(rec *model.SubmissionRecord) {
			if rec.Trigger == model.TriggerTimeout {
				fmt.Println("\nTime is up. Submitting your answers...")
			}
			submitted <- struct{}{}
		}),
		exam.WithTickObserver(func(remaining int) {
			if remaining > 0 && (remaining%60 == 0 || remaining == 30 || remaining == 10) {
				fmt.Printf("\n[%s left]\n> ", formatSeconds(remaining))
			}
		}),
	)
	if err != nil {
		if errors.Is(err, exam.ErrAttemptLimitReached) {
			return fmt.Errorf("you have used all %d attempts for this exam", exam.MaxAttempts)
		}
		return err
	}
	defer clock.Wait()

	_, history, _ := loader.Cached(examID)
	e := eng.Exam()
	fmt.Printf("%s: %d question(s), %s, %d attempt(s) left\n",
		e.Title, e.QuestionCount(), formatSeconds(e.DurationSeconds), exam.AttemptsLeft(history))
	fmt.Println("Commands: a-d select, n next, p prev, g <n> go to, f flag, s submit, q quit")

	if err := eng.Start(); err != nil {
		return err
	}

	lines := readLines(in)
	render(eng)

	for {
		select {
		case <-ctx.Done():
			_ = eng.Abandon()
			fmt.Println("\nAttempt abandoned, nothing was recorded.")
			return nil

		case <-submitted:
			return finish(ctx, api, eng, lines, log)

		case line, ok := <-lines:
			if !ok {
				_ = eng.Abandon()
				return nil
			}
			if quit := command(eng, line); quit {
				_ = eng.Abandon()
				fmt.Println("Attempt abandoned, nothing was recorded.")
				return nil
			}
			if eng.State() == exam.StateInProgress {
				render(eng)
			}
		}
	}
}

func command(eng *exam.Engine, line string) (quit bool) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false
	}

	var err error
	switch fields[0] {
	case "a", "b", "c", "d":
		q := eng.Exam().Questions[eng.CurrentIndex()]
		err = eng.SelectOption(q.ID, strings.ToUpper(fields[0]))
	case "n":
		_, err = eng.Next()
	case "p":
		err = eng.Previous()
	case "g":
		if len(fields) < 2 {
			fmt.Println("usage: g <question number>")
			return false
		}
		n, convErr := strconv.Atoi(fields[1])
		if convErr != nil {
			fmt.Println("usage: g <question number>")
			return false
		}
		err = eng.GoToQuestion(n - 1)
	case "f":
		q := eng.Exam().Questions[eng.CurrentIndex()]
		var marked bool
		marked, err = eng.ToggleReviewFlag(q.ID)
		if err == nil && marked {
			fmt.Println("Marked for review")
		}
	case "s":
		_, err = eng.RequestSubmit()
	case "q":
		return true
	default:
		fmt.Println("unknown command")
	}

	if errors.Is(err, exam.ErrIncompleteAnswers) {
		c := eng.Counters()
		fmt.Printf("Answer every question first (%d left).\n", c.NotAnswered)
	} else if err != nil {
		fmt.Println("error:", err)
	}
	return false
}

// finish delivers the frozen record, offering retries until it lands or the user gives up.
func finish(ctx context.Context, api *client.Client, eng *exam.Engine, lines <-chan string, log zerolog.Logger) error {
	rec := exam.NewReconciler(api, log, exam.WithRetries(2))
	for {
		res, err := rec.Submit(ctx, eng)
		if err == nil {
			printResult(ctx, api, eng, res)
			return nil
		}
		if !exam.IsRetryable(err) {
			return err
		}

		var se *exam.SubmissionError
		errors.As(err, &se)
		fmt.Printf("Submission failed after %d tries: %v\n", se.Attempts, se.Err)
		if se.MayBeRecorded {
			fmt.Println("It may already be recorded; retrying is safe.")
		}
		fmt.Print("r to retry, q to give up: ")

		line, ok := <-lines
		if !ok || strings.TrimSpace(line) == "q" {
			return errors.New("submission not delivered")
		}
	}
}

func printResult(ctx context.Context, api *client.Client, eng *exam.Engine, res *model.AttemptResult) {
	stats := exam.ComputeReview(eng.Exam().Questions, res)
	fmt.Println()
	fmt.Printf("Score %.2f / %.2f (%.2f%%), best %.2f\n", stats.TotalMarks, stats.TotalPossible, stats.Percentage, res.BestScore)
	fmt.Printf("Attempted %d, skipped %d, correct %d, wrong %d, accuracy %.2f%%\n",
		stats.QuestionsAttempted, stats.QuestionsSkipped, stats.AnsweredCorrect, stats.AnsweredWrong, stats.Accuracy)

	review, err := api.Review(ctx, res.ExamID)
	if err != nil {
		fmt.Println("review unavailable:", err)
		return
	}
	fmt.Println()
	for _, item := range review.Items {
		mark := "-"
		switch {
		case item.Attempted && item.Correct:
			mark = "✓"
		case item.Attempted:
			mark = "✗"
		}
		fmt.Printf("%s %d. %s\n", mark, item.Index+1, item.Question)
		if item.Attempted && !item.Correct {
			fmt.Printf("    your answer: %s\n", item.Selected)
		}
		fmt.Printf("    correct: %s\n", item.CorrectAnswer)
		if item.Explanation != "" {
			fmt.Printf("    %s\n", item.Explanation)
		}
	}
}

// ─── Terminal ───────────────────────────────────────────────────────

func render(eng *exam.Engine) {
	snap := eng.Snapshot()
	q := eng.Exam().Questions[snap.CurrentIndex]

	fmt.Println()
	fmt.Printf("Question %d/%d  [%s left]  answered %d, marked %d, not visited %d\n",
		snap.CurrentIndex+1, snap.QuestionCount, formatSeconds(snap.TimeRemaining),
		snap.Counters.Answered, snap.Counters.MarkedForReview, snap.Counters.NotVisited)
	fmt.Println(q.Text)
	for _, o := range q.Options {
		cursor := " "
		if snap.Selected[q.ID] == o.ID {
			cursor = "*"
		}
		fmt.Printf(" %s %s) %s\n", cursor, strings.ToLower(o.ID), o.Text)
	}
	fmt.Print("> ")
}

func pickExam(ctx context.Context, api *client.Client, in *bufio.Reader, flagValue string) (uuid.UUID, error) {
	if flagValue != "" {
		return uuid.Parse(flagValue)
	}

	exams, err := api.ListExams(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("list exams: %w", err)
	}
	if len(exams) == 0 {
		return uuid.Nil, errors.New("no exams available")
	}
	for i, e := range exams {
		fmt.Printf("%2d. %s (%s)\n", i+1, e.Title, formatSeconds(e.DurationSeconds))
	}
	n, err := strconv.Atoi(ask(in, "Pick an exam: "))
	if err != nil || n < 1 || n > len(exams) {
		return uuid.Nil, errors.New("invalid choice")
	}
	return exams[n-1].ID, nil
}

func readLines(in *bufio.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for {
			line, err := in.ReadString('\n')
			if line != "" {
				ch <- line
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

func ask(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := in.ReadString('\n')
	return strings.TrimSpace(line)
}

func formatSeconds(s int) string {
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "examctl: "+format+"\n", args...)
	os.Exit(1)
}
