package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/stemsi/exstem-exam/internal/config"
	"github.com/stemsi/exstem-exam/internal/database"
	"github.com/stemsi/exstem-exam/internal/logger"
	"github.com/stemsi/exstem-exam/internal/model"
	"github.com/stemsi/exstem-exam/internal/repository"
	"github.com/stemsi/exstem-exam/internal/service"
	"github.com/stemsi/exstem-exam/internal/validator"
)

func main() {
	file := flag.String("file", "", "Path to a JSON exam definition")
	author := flag.String("author", "", "Email of the admin the exam is attributed to")
	publish := flag.Bool("publish", false, "Publish the exam and warm its cache after creating it")
	flag.Parse()

	if *file == "" || *author == "" {
		fmt.Println("Usage: seed-exam -file exam.json -author admin@example.com [-publish]")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	validator.Setup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// ─── Read Definition ───────────────────────────────────────────────
	raw, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read exam file")
	}
	var req model.CreateExamRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Fatal().Err(err).Msg("Invalid exam JSON")
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		for field, msg := range validator.TranslateErrors(err) {
			fmt.Printf("  %s: %s\n", field, msg)
		}
		os.Exit(1)
	}

	// ─── Connect ───────────────────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	userRepo := repository.NewUserRepository(pool)
	examService := service.NewExamService(
		repository.NewExamRepository(pool),
		repository.NewQuestionRepository(pool),
		service.NewExamCache(rdb, config.ExamCacheTTL),
		log,
	)

	admin, err := userRepo.GetByEmail(ctx, *author)
	if err != nil {
		log.Fatal().Err(err).Str("email", *author).Msg("Author not found")
	}
	if admin.Role != model.RoleAdmin {
		log.Fatal().Str("email", *author).Msg("Author must be an admin")
	}

	// ─── Create ────────────────────────────────────────────────────────
	e, err := examService.Create(ctx, admin.ID, &req)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}
	fmt.Printf("Created exam %q with %d question(s): %s\n", e.Title, e.QuestionCount(), e.ID)

	if *publish {
		if err := examService.Publish(ctx, e.ID); err != nil {
			log.Fatal().Err(err).Msg("Failed to publish exam")
		}
		fmt.Println("Published and cached")
	}
}
