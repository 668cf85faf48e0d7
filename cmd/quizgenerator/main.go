package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quizstudio"

	"go.uber.org/zap"
)

func main() {
	var (
		configDir    = flag.String("config", ".", "Directory containing config.yaml")
		title        = flag.String("title", "", "Quiz title (default: first file name)")
		types        = flag.String("types", "multiple-choice", "Comma separated question types (multiple-choice, multi-true-false, short-answer)")
		mode         = flag.String("mode", "theory", "Generation mode (extract, theory)")
		count        = flag.Int("questions", 0, "Questions per type (0: let the model decide)")
		lang         = flag.String("lang", "", "Output language (en, vi)")
		explanations = flag.Bool("explanations", true, "Generate explanations")
		webSearch    = flag.Bool("research", false, "Run a background research step before generating")
		outputFile   = flag.String("output", "", "Output file for quiz JSON (default: stdout)")
		save         = flag.Bool("save", false, "Store the quiz in the configured store")
		playMode     = flag.Bool("play", false, "Take the quiz interactively after generating it")
		study        = flag.Bool("study", false, "Play in study mode instead of test mode")
		shuffle      = flag.Bool("shuffle", false, "Shuffle questions and options when playing")
		timeout      = flag.Duration("timeout", 10*time.Minute, "Cancel generation after this long")
		verbose      = flag.Bool("verbose", false, "Enable verbose debugging output")
	)

	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal("At least one source file is required. Usage: quizgenerator [flags] file...")
	}

	cfg, err := quizstudio.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := quizstudio.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	quizstudio.SetLogger(logger)

	if cfg.OpenAI.APIKey == "" {
		log.Fatal("OpenAI API key is required. Set OPENAI_API_KEY or openai.api_key in config.yaml.")
	}

	var backend quizstudio.Backend = quizstudio.NewMemoryBackend()
	if *save {
		backend, err = quizstudio.OpenBackend(cfg.Store)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
	}
	store := quizstudio.NewStore(backend)
	store.Load()

	language := cfg.App.Language
	if *lang != "" {
		language = quizstudio.Language(*lang)
	}

	app := quizstudio.NewApp(quizstudio.AppOptions{
		Store:        store,
		Extractor:    quizstudio.NewFileExtractor(),
		Generator:    quizstudio.NewOpenAIGenerator(cfg.OpenAI),
		Validator:    quizstudio.NewOpenAIValidator(cfg.OpenAI),
		Notifier:     quizstudio.LogNotifier{},
		Language:     language,
		DefaultModel: cfg.OpenAI.Model,
	})
	defer app.Close()

	files, err := readFiles(flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	if *title == "" {
		*title = strings.TrimSuffix(files[0].Name, filepath.Ext(files[0].Name))
	}

	params := quizstudio.GenerationParams{
		Mode:         quizstudio.GenerationMode(*mode),
		Explanations: *explanations,
		UseWebSearch: *webSearch,
		Counts:       map[quizstudio.QuestionType]quizstudio.Count{},
		Difficulties: map[quizstudio.QuestionType]map[quizstudio.Difficulty]quizstudio.Count{},
	}
	for _, t := range strings.Split(*types, ",") {
		qt := quizstudio.QuestionType(strings.TrimSpace(t))
		params.Types = append(params.Types, qt)
		params.Counts[qt] = quizstudio.Count{Auto: *count <= 0, N: *count}
		params.Difficulties[qt] = map[quizstudio.Difficulty]quizstudio.Count{
			quizstudio.DifficultyRecognition:   {Auto: true},
			quizstudio.DifficultyComprehension: {Auto: true},
			quizstudio.DifficultyApplication:   {Auto: true},
		}
	}

	fmt.Printf("⏳ Generating %q from %d file(s)... (this may take a moment)\n", *title, len(files))
	jobID := app.SubmitJob(files, *title, params)

	done := make(chan struct{})
	go func() {
		app.WaitJobs()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(*timeout):
		app.CancelJob(jobID)
		log.Fatalf("Generation timed out after %s", *timeout)
	}

	job := findJob(app.Jobs(), jobID)
	if job.Status != quizstudio.JobCompleted {
		log.Fatalf("Failed to generate quiz: %s", job.Error)
	}

	quiz, err := app.OpenJobResult(jobID)
	if err != nil {
		log.Fatalf("Failed to open quiz: %v", err)
	}

	output, err := json.MarshalIndent(quiz, "", "  ")
	if err != nil {
		log.Fatalf("Failed to marshal quiz: %v", err)
	}
	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, output, 0644); err != nil {
			log.Fatalf("Failed to write output file: %v", err)
		}
		log.Printf("Quiz saved to: %s", *outputFile)
	} else if !*playMode {
		fmt.Println(string(output))
	}

	if *playMode {
		config := quizstudio.QuizConfig{
			Mode:             quizstudio.ModeTest,
			Timer:            quizstudio.TimerSettings{PerQuestion: 60, PerComplexQuestion: 2},
			ShowExplanations: true,
		}
		if *study {
			config.Mode = quizstudio.ModeStudy
		}
		settings := quizstudio.ShuffleSettings{ShuffleQuestions: *shuffle, ShuffleOptions: *shuffle}
		if err := playQuiz(app, quiz.ID, config, settings); err != nil {
			logger.Error("play failed", zap.Error(err))
			log.Fatal(err)
		}
	}
}

func readFiles(paths []string) ([]quizstudio.SourceFile, error) {
	files := make([]quizstudio.SourceFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		files = append(files, quizstudio.SourceFile{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

func findJob(jobs []quizstudio.Job, id string) quizstudio.Job {
	for _, j := range jobs {
		if j.ID == id {
			return j
		}
	}
	return quizstudio.Job{}
}

func playQuiz(app *quizstudio.App, quizID string, config quizstudio.QuizConfig, settings quizstudio.ShuffleSettings) error {
	run, err := app.StartQuiz(quizID, config, settings)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(os.Stdin)
	quiz := run.Quiz()

	fmt.Printf("🎯 %s (%s mode)\n", quiz.Title, config.Mode)
	if config.Mode == quizstudio.ModeTest {
		fmt.Printf("⏱  Time budget: %ds\n", run.Budget())
	}
	fmt.Println("Type 'q' to save and exit.")
	fmt.Println()

	for {
		snap := run.Snapshot()
		if snap.State != quizstudio.RunInProgress {
			break
		}
		i := snap.Current
		q := quiz.Questions[i]
		fmt.Printf("Question %d/%d:\n", i+1, len(quiz.Questions))
		if q.Passage != "" {
			fmt.Printf("%s\n\n", q.Passage)
		}
		fmt.Printf("%s\n\n", q.Question)

		answer, quit := prompt(scanner, q)
		if quit {
			attempt, err := app.SaveAndExitRun(run.ID())
			if err != nil {
				return err
			}
			fmt.Printf("💾 Saved. Resume attempt %s later.\n", attempt.ID)
			return nil
		}
		if err := run.Answer(i, answer); err != nil {
			fmt.Printf("⚠️  %v\n\n", err)
			continue
		}

		if config.Mode == quizstudio.ModeStudy {
			state := run.Snapshot().Checked[i]
			if state == quizstudio.Unchecked {
				state, err = run.Check(context.Background(), i)
				if err != nil {
					fmt.Printf("⚠️  %v\n\n", err)
					continue
				}
			}
			printVerdict(q, state, run.Snapshot().Feedback[i])
		}

		attempt, err := app.Next(run.ID())
		if errors.Is(err, quizstudio.ErrInvalidState) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Println(strings.Repeat("─", 50))
		if attempt != nil {
			printResult(*attempt)
			return nil
		}
	}

	if attempt := run.Snapshot().Attempt; attempt != nil {
		fmt.Println("⏰ Time is up!")
		printResult(*attempt)
	}
	return nil
}

// prompt reads an answer in the form the question type needs.
func prompt(scanner *bufio.Scanner, q quizstudio.Question) (quizstudio.Answer, bool) {
	switch q.Type {
	case quizstudio.TypeMultipleChoice:
		for i, option := range q.Options {
			fmt.Printf("%d) %s\n", i+1, option)
		}
		for {
			fmt.Print("Your answer: ")
			line, ok := readLine(scanner)
			if !ok || line == "q" {
				return quizstudio.Answer{}, true
			}
			n, err := strconv.Atoi(line)
			if err == nil && n >= 1 && n <= len(q.Options) {
				return quizstudio.TextAnswer(q.Options[n-1]), false
			}
			fmt.Printf("Please enter a number between 1 and %d\n", len(q.Options))
		}
	case quizstudio.TypeMultiTrueFalse:
		parts := make([]quizstudio.TrueFalse, len(q.SubQuestions))
		for i, sub := range q.SubQuestions {
			for {
				fmt.Printf("%c) %s (T/F): ", 'a'+i, sub.Statement)
				line, ok := readLine(scanner)
				if !ok || line == "q" {
					return quizstudio.Answer{}, true
				}
				switch strings.ToUpper(line) {
				case "T":
					parts[i] = quizstudio.True
				case "F":
					parts[i] = quizstudio.False
				default:
					fmt.Println("Please enter T or F")
					continue
				}
				break
			}
		}
		return quizstudio.PartsAnswer(parts...), false
	default:
		fmt.Print("Your answer: ")
		line, ok := readLine(scanner)
		if !ok || line == "q" {
			return quizstudio.Answer{}, true
		}
		return quizstudio.TextAnswer(line), false
	}
}

func readLine(scanner *bufio.Scanner) (string, bool) {
	if !scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(scanner.Text()), true
}

func printVerdict(q quizstudio.Question, state quizstudio.CheckState, feedback string) {
	fmt.Println()
	if state == quizstudio.CheckedCorrect {
		fmt.Println("✅ Correct!")
	} else {
		fmt.Println("❌ Incorrect.")
		switch q.Type {
		case quizstudio.TypeMultiTrueFalse:
			for i, sub := range q.SubQuestions {
				fmt.Printf("   %c) %s\n", 'a'+i, sub.Answer)
			}
		default:
			fmt.Printf("   The correct answer is: %s\n", q.Answer)
		}
	}
	if feedback != "" {
		fmt.Printf("💬 %s\n", feedback)
	}
	if q.Explanation != "" {
		fmt.Printf("💡 Explanation: %s\n", q.Explanation)
	}
	fmt.Println()
}

func printResult(attempt quizstudio.QuizAttempt) {
	percentage := 0.0
	if attempt.TotalQuestions > 0 {
		percentage = float64(attempt.Score) / float64(attempt.TotalQuestions) * 100
	}
	fmt.Println("🎉 Quiz completed!")
	fmt.Printf("🏆 Score: %d/%d (%.1f%%) in %ds\n", attempt.Score, attempt.TotalQuestions, percentage, attempt.Duration)

	if percentage >= 80 {
		fmt.Println("🌟 Excellent work!")
	} else if percentage >= 60 {
		fmt.Println("👍 Good job!")
	} else {
		fmt.Println("📚 Keep studying!")
	}
}
