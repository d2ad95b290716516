package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/victornm/etrivia/internal/backend"
	"github.com/victornm/etrivia/internal/domain"
	"github.com/victornm/etrivia/internal/errors"
	"github.com/victornm/etrivia/internal/play"
	"github.com/victornm/etrivia/internal/reconcile"
	"github.com/victornm/etrivia/internal/validate"
)

const listSize = 10

type command struct {
	help     string
	signedIn bool
	run      func(ctx context.Context) error
}

type console struct {
	app *App
	in  *bufio.Scanner
	out io.Writer

	cmds  map[string]command
	names []string // menu order
}

// Run reads commands from in until quit or end of input.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	c := &console{app: a, in: bufio.NewScanner(in), out: out}
	c.register()

	if cr := a.c.Credentials; cr.Email != "" && cr.Password != "" {
		if _, err := a.accounts.Login(ctx, validate.Login{Email: cr.Email, Password: cr.Password}); err != nil {
			c.printf("automatic sign-in failed: %s\n", message(err))
		}
	}

	c.menu()
	for {
		line, ok := c.prompt("> ")
		if !ok {
			return c.in.Err()
		}

		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "help":
			c.menu()
			continue
		}

		cmd, ok := c.cmds[line]
		if !ok {
			c.printf("unknown command %q, type help\n", line)
			continue
		}
		if _, signed := a.identities.Current(); cmd.signedIn && !signed {
			c.printf("sign in first\n")
			continue
		}

		if err := cmd.run(ctx); err != nil {
			c.printf("%s\n", message(err))
		}
	}
}

func (c *console) register() {
	c.cmds = map[string]command{
		"register": {help: "create an account", run: c.registerAccount},
		"login":    {help: "sign in", run: c.login},
		"play":     {help: "play a game", run: c.play},
		"profile":  {help: "show your profile and scores", signedIn: true, run: c.profile},
		"edit":     {help: "edit your profile", signedIn: true, run: c.edit},
		"history":  {help: "your latest games", signedIn: true, run: c.history},
		"ranking":  {help: "global ranking", signedIn: true, run: c.ranking},
		"logout":   {help: "sign out", signedIn: true, run: c.logout},
		"delete":   {help: "delete your account", signedIn: true, run: c.deleteAccount},
	}
	c.names = []string{"register", "login", "play", "profile", "edit", "history", "ranking", "logout", "delete"}
}

func (c *console) menu() {
	c.printf("commands:\n")
	for _, n := range c.names {
		c.printf("  %-9s %s\n", n, c.cmds[n].help)
	}
	c.printf("  %-9s %s\n", "quit", "leave")
}

func (c *console) registerAccount(ctx context.Context) error {
	var f validate.Registration
	for _, field := range []struct {
		label string
		dst   *string
	}{
		{"first name", &f.FirstName},
		{"last name", &f.LastName},
		{"birth date (DD/MM/YYYY)", &f.BirthDate},
		{"email", &f.Email},
		{"password", &f.Password},
	} {
		v, ok := c.prompt(field.label + ": ")
		if !ok {
			return nil
		}
		*field.dst = v
	}

	u, err := c.app.accounts.Register(ctx, f)
	if err != nil {
		return err
	}

	c.printf("welcome, %s!\n", u.FirstName)
	return nil
}

func (c *console) login(ctx context.Context) error {
	email, ok := c.prompt("email: ")
	if !ok {
		return nil
	}
	password, ok := c.prompt("password: ")
	if !ok {
		return nil
	}

	if _, err := c.app.accounts.Login(ctx, validate.Login{Email: email, Password: password}); err != nil {
		return err
	}

	if u, ok := c.app.users.Current(); ok {
		c.printf("welcome back, %s!\n", u.FirstName)
	} else {
		c.printf("signed in\n")
	}
	return nil
}

func (c *console) logout(ctx context.Context) error {
	if err := c.app.accounts.Logout(ctx); err != nil {
		return err
	}
	c.printf("signed out\n")
	return nil
}

func (c *console) deleteAccount(ctx context.Context) error {
	answer, ok := c.prompt("type yes to delete your account and all your games: ")
	if !ok || answer != "yes" {
		c.printf("kept\n")
		return nil
	}

	if err := c.app.accounts.DeleteAccount(ctx); err != nil {
		return err
	}
	c.printf("account deleted\n")
	return nil
}

func (c *console) profile(ctx context.Context) error {
	u, ok := c.app.users.Current()
	if !ok {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("profile is not loaded yet"))
	}

	a := u.Aggregate
	c.printf("%s %s <%s>\n", u.FirstName, u.LastName, u.Email)
	if u.BirthDate != "" {
		c.printf("born %s\n", validate.DisplayDate(u.BirthDate))
	}
	c.printf("total score %d, games %d, best %d, streak %d\n", a.TotalScore, a.GamesPlayed, a.BestScore, a.CurrentStreak)

	scores := c.app.scores.ReadAll(ctx, u.ID)
	for _, d := range domain.Difficulties {
		c.printf("  last %-12s %d\n", d, scores[d])
	}
	return nil
}

func (c *console) edit(ctx context.Context) error {
	u, ok := c.app.users.Current()
	if !ok {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("profile is not loaded yet"))
	}

	f := validate.ProfileUpdate{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		BirthDate: validate.DisplayDate(u.BirthDate),
		AvatarURL: u.AvatarURL,
	}
	for _, field := range []struct {
		label string
		dst   *string
	}{
		{"first name", &f.FirstName},
		{"last name", &f.LastName},
		{"birth date (DD/MM/YYYY)", &f.BirthDate},
		{"avatar url", &f.AvatarURL},
	} {
		v, ok := c.prompt(fmt.Sprintf("%s [%s]: ", field.label, *field.dst))
		if !ok {
			return nil
		}
		if v != "" {
			*field.dst = v
		}
	}

	f, err := c.app.validator.ProfileUpdate(f)
	if err != nil {
		return err
	}

	var birth string
	if f.BirthDate != "" {
		if birth, err = validate.ISODate(f.BirthDate); err != nil {
			return err
		}
	}

	updated, err := c.app.backend.UpdateUser(ctx, u.ID, backend.UpdateUserRequest{
		FirstName: f.FirstName,
		LastName:  f.LastName,
		BirthDate: birth,
		AvatarURL: f.AvatarURL,
	})
	if err != nil {
		return err
	}

	if _, err := c.app.profiles.UpdateDetails(ctx, *updated); err != nil {
		slog.WarnContext(ctx, "app: update profile document failed", "user", u.ID, "error", err)
	}
	c.app.users.Set(ctx, updated)

	c.printf("profile updated\n")
	return nil
}

func (c *console) history(ctx context.Context) error {
	id, _ := c.app.identities.Current()
	games, err := c.app.backend.History(ctx, id.UserID, listSize)
	if err != nil {
		return err
	}

	if len(games) == 0 {
		c.printf("no games yet\n")
		return nil
	}
	for _, g := range games {
		c.printf("%s  %-12s %4d pts  %d/%d correct (%.2f%%)  %s\n",
			g.PlayedAt.Local().Format("2006-01-02 15:04"), g.Difficulty, g.Score,
			g.CorrectAnswers, g.CorrectAnswers+g.WrongAnswers, g.Accuracy, g.TimeTaken)
	}
	return nil
}

func (c *console) ranking(ctx context.Context) error {
	entries, err := c.app.backend.Ranking(ctx, listSize)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		c.printf("nobody is ranked yet\n")
		return nil
	}
	for i, e := range entries {
		name := e.Name
		if name == "" {
			name = e.UserID
		}
		c.printf("%2d. %-24s %d\n", i+1, name, e.TotalScore)
	}
	return nil
}

func (c *console) play(ctx context.Context) error {
	cfg := c.app.c.Game

	choice, ok := c.prompt(fmt.Sprintf("difficulty [%s]: ", cfg.Difficulty))
	if !ok {
		return nil
	}
	if choice == "" {
		choice = cfg.Difficulty
	}
	d, known := domain.ParseDifficulty(choice)
	if !known {
		c.printf("unknown difficulty %q, playing %s\n", choice, d)
	}

	if err := c.app.game.Start(ctx, d, cfg.Level, cfg.Questions); err != nil {
		return err
	}
	events := c.app.game.Events()

	for {
		q, idx, ok := c.app.game.Current()
		if !ok {
			break
		}

		c.printf("\nquestion %d (%s, %s)\n%s\n", idx+1, q.Category, q.TimeLimit, q.Prompt)
		for i, o := range q.Options {
			c.printf("  %d) %s\n", i+1, o)
		}

		line, ok := c.prompt("answer (q to quit): ")
		if !ok || line == "q" {
			c.app.game.Quit()
			c.printf("game abandoned\n")
			return nil
		}

		option, err := strconv.Atoi(line)
		if err != nil || option < 1 || option > len(q.Options) {
			c.printf("pick an option between 1 and %d\n", len(q.Options))
			continue
		}

		_, err = c.app.game.AnswerAt(idx, option-1)
		switch {
		case err == nil:
		case errors.Is(err, errors.CodeAlreadyExists), errors.Is(err, errors.CodeFailedPrecondition):
			// the timer got there first
		case errors.Is(err, errors.CodeInvalidArgument):
			c.printf("pick an option between 1 and %d\n", len(q.Options))
			continue
		default:
			return err
		}

		if res := c.await(events, idx); res != nil {
			c.result(res)
			return nil
		}
	}

	if res := c.await(events, math.MaxInt); res != nil {
		c.result(res)
	}
	return nil
}

// await prints resolutions up to question idx and returns the result if the game ended.
func (c *console) await(events <-chan play.Event, idx int) *play.Result {
	for e := range events {
		if e.Result != nil {
			return e.Result
		}

		r := e.Resolution
		switch {
		case r.TimedOut:
			c.printf("time is up! the answer was %s\n", r.Question.Options[r.Question.Correct])
		case r.Answer.Correct:
			c.printf("correct! +%d (streak %d)\n", r.Answer.Points, r.Streak)
		default:
			c.printf("wrong, the answer was %s\n", r.Question.Options[r.Question.Correct])
		}
		if r.Question.Explanation != "" {
			c.printf("  %s\n", r.Question.Explanation)
		}

		if r.Index >= idx && !r.Finished {
			return nil
		}
	}
	return nil
}

func (c *console) result(res *play.Result) {
	rep := res.Report
	c.printf("\nscore %d/%d\n%s\n", rep.Score, rep.MaxScore, res.Verdict)

	if res.Err != nil {
		c.printf("your game could not be saved: %s\n", message(res.Err))
		return
	}

	if rep.Source != reconcile.SourceNone {
		a := rep.Aggregate
		c.printf("total score %d, games %d, best %d, streak %d\n", a.TotalScore, a.GamesPlayed, a.BestScore, a.CurrentStreak)
	}

	for _, n := range rep.Notices(c.app.policy) {
		c.printf("could not update %s: %s\n", strings.ReplaceAll(string(n.Step), "_", " "), message(n.Err))
	}
}

func (c *console) prompt(label string) (string, bool) {
	c.printf("%s", label)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func message(err error) string {
	return errors.Convert(err).Message
}
