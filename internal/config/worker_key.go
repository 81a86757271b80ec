package config

type WorkerKeyStruct struct {
	PersistExamSessionsQueue  string
	DeleteParticipationsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistExamSessionsQueue:  "persist_exam_sessions_queue",
	DeleteParticipationsQueue: "delete_participations_queue",
}
