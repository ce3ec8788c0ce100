package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/techagentng/notify/config"
	"github.com/techagentng/notify/db"
	"github.com/techagentng/notify/server"
	"github.com/techagentng/notify/services"
	"github.com/techagentng/notify/services/fanout"
	"github.com/techagentng/notify/services/jwt"
	"github.com/techagentng/notify/services/mailing"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	conf, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if conf.Debug {
		log.SetLevel(log.DebugLevel)
	}

	gormDB := db.GetDB(conf)
	notificationRepo := db.NewNotificationRepo(gormDB)

	hub := server.NewHub()

	// With a broker configured, pushes fan out to every instance; otherwise
	// the local registry is the only delivery target.
	var pusher services.Pusher = hub
	if conf.AMQPURI != "" {
		amqpFanout, err := fanout.NewAMQPFanout(conf.AMQPURI, conf.AMQPExchange, hub)
		if err != nil {
			log.Fatalf("unable to set up AMQP fan-out: %v", err)
		}
		defer amqpFanout.Close()
		pusher = amqpFanout
	}

	mailer := mailing.NewMailgun(conf.MgDomain, conf.MailgunApiKey, conf.MgEmailFrom)
	var mailerPort services.Mailer
	if mailer != nil {
		mailerPort = mailer
	}

	notificationService := services.NewNotificationService(notificationRepo, pusher, mailerPort, conf)

	s := &server.Server{
		Config:                 conf,
		DB:                     *gormDB,
		NotificationRepository: notificationRepo,
		NotificationService:    notificationService,
		Hub:                    hub,
		Verifier:               jwt.NewVerifier(conf.JWTSecret),
	}

	s.Start()
}
