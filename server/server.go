package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/techagentng/notify/config"
	"github.com/techagentng/notify/db"
	"github.com/techagentng/notify/services"
	"github.com/techagentng/notify/services/jwt"
)

type Server struct {
	Config                 *config.Config
	DB                     db.GormDB
	NotificationRepository db.NotificationRepository
	NotificationService    services.NotificationService
	Hub                    *Hub
	Verifier               jwt.Verifier
}

// Start runs the HTTP server until SIGINT/SIGTERM and then drains it. It
// also runs the periodic retention sweep over old, already-read rows.
func (s *Server) Start() {
	r := s.setupRouter()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Config.Port),
		Handler: r,
	}

	stopCleanup := make(chan struct{})
	go s.runCleanupSchedule(stopCleanup)

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	close(stopCleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithField("error", err).Error("forced shutdown")
	}
}

func (s *Server) runCleanupSchedule(stop <-chan struct{}) {
	interval := time.Duration(s.Config.CleanupIntervalHr) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.NotificationService.CleanupOldNotifications(s.Config.RetentionDays); err != nil {
				log.WithField("error", err).Error("retention sweep failed")
			}
		case <-stop:
			return
		}
	}
}
