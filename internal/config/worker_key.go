package config

type WorkerKeyStruct struct {
	AttemptEventsQueue string
	// AttemptEventsExchange is the RabbitMQ topic exchange attempt events are published to.
	AttemptEventsExchange     string
	AttemptRecordedRoutingKey string
}

var WorkerKey = &WorkerKeyStruct{
	AttemptEventsQueue:        "attempt_events_queue",
	AttemptEventsExchange:     "exam.events",
	AttemptRecordedRoutingKey: "attempt.recorded",
}
