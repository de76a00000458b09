// Package app assembles the booking components on top of a set of storage
// ports and collaborators.
package app

import (
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/consultslot/libs/outbox"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/appointments"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/identity"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/meetings"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reaper"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reminders"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/consultslot/services/booking-service/internal/slots"
)

// Store is everything the booking core persists.
type Store interface {
	slots.Store
	appointments.Store
	payments.Store
	reminders.Store
}

type Ports struct {
	Store     Store
	Identity  identity.Resolver
	Meetings  meetings.Provisioner
	Notifier  notify.Notifier
	Events    outbox.Emitter
	Processor payments.Processor
	// Locker is optional; without it every replica sweeps.
	Locker reaper.Locker
	Logger *slog.Logger

	Location               *time.Location
	MeetingFallbackBaseURL string
	Scheduler              reminders.SchedulerConfig
	Worker                 reminders.WorkerConfig
	Reaper                 reaper.Config
}

type Components struct {
	Slots        *slots.Registry
	Reservations *reservation.Manager
	Scheduler    *reminders.Scheduler
	Appointments *appointments.Service
	Gateway      *payments.Gateway
	Reaper       *reaper.Reaper
	Worker       *reminders.Worker
}

func Build(p Ports) *Components {
	registry := slots.NewRegistry(p.Store, p.Location)
	manager := reservation.NewManager(registry, p.Logger)
	scheduler := reminders.NewScheduler(p.Store, p.Scheduler)

	svc := appointments.NewService(appointments.Deps{
		Store:                  p.Store,
		Slots:                  registry,
		Reservations:           manager,
		Identity:               p.Identity,
		Meetings:               p.Meetings,
		Reminders:              scheduler,
		Notifier:               p.Notifier,
		Events:                 p.Events,
		Logger:                 p.Logger,
		MeetingFallbackBaseURL: p.MeetingFallbackBaseURL,
	})
	gateway := payments.NewGateway(p.Store, svc, p.Processor, p.Notifier, p.Logger)
	svc.SetSettler(gateway)

	return &Components{
		Slots:        registry,
		Reservations: manager,
		Scheduler:    scheduler,
		Appointments: svc,
		Gateway:      gateway,
		Reaper:       reaper.New(svc, p.Locker, p.Logger, p.Reaper),
		Worker:       reminders.NewWorker(p.Store, svc, registry, p.Notifier, p.Events, p.Logger, p.Worker),
	}
}
