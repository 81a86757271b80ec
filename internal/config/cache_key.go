package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// GenerationLockKey returns the key of the per-exam student exam generation lock
func (r *CacheKeyStruct) GenerationLockKey(examID string) string {
	return fmt.Sprintf("exam:%s:generation_lock", examID)
}

// WorkingTimeChannel returns the Redis PubSub channel announcing working-time changes of an exam
func (r *CacheKeyStruct) WorkingTimeChannel(examID string) string {
	return fmt.Sprintf("exam:%s:working_time", examID)
}

// StudentExamWorkingTimeChannel returns the channel a single participant's stream listens on
func (r *CacheKeyStruct) StudentExamWorkingTimeChannel(studentExamID string) string {
	return fmt.Sprintf("student_exam:%s:working_time", studentExamID)
}

// ExamScoresKey returns the cache key of an exam's computed scores for one correction round
// ("latest" when no round is selected)
func (r *CacheKeyStruct) ExamScoresKey(examID, round string) string {
	return fmt.Sprintf("exam:%s:scores:%s", examID, round)
}

// ExamSessionsChannel returns the channel new proctoring sessions of an exam are announced on
func (r *CacheKeyStruct) ExamSessionsChannel(examID string) string {
	return fmt.Sprintf("exam:%s:sessions", examID)
}

var CacheKey = NewCacheKeyStruct()
