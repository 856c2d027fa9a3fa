package domain

// Counts holds node counts per level of an exam tree.
type Counts struct {
	Exams     int `json:"exams" bson:"exams"`
	Subjects  int `json:"subjects" bson:"subjects"`
	Papers    int `json:"questionPapers" bson:"questionPapers"`
	Questions int `json:"questions" bson:"questions"`
}

// Count walks exams and returns the number of nodes on each level.
func Count(exams []Exam) Counts {
	var c Counts
	c.Exams = len(exams)
	for _, e := range exams {
		c.Subjects += len(e.Subjects)
		for _, s := range e.Subjects {
			c.Papers += len(s.QuestionPapers)
			for _, p := range s.QuestionPapers {
				c.Questions += len(p.Questions)
			}
		}
	}
	return c
}

// CloneExam returns a deep copy of e.
func CloneExam(e Exam) Exam {
	out := e
	out.Subjects = nil
	if e.Subjects != nil {
		out.Subjects = make([]Subject, len(e.Subjects))
		for i, s := range e.Subjects {
			out.Subjects[i] = CloneSubject(s)
		}
	}
	return out
}

// CloneSubject returns a deep copy of s.
func CloneSubject(s Subject) Subject {
	out := s
	out.QuestionPapers = nil
	if s.QuestionPapers != nil {
		out.QuestionPapers = make([]QuestionPaper, len(s.QuestionPapers))
		for i, p := range s.QuestionPapers {
			out.QuestionPapers[i] = ClonePaper(p)
		}
	}
	return out
}

// ClonePaper returns a deep copy of p.
func ClonePaper(p QuestionPaper) QuestionPaper {
	out := p
	if p.LastUpdated != nil {
		ts := *p.LastUpdated
		out.LastUpdated = &ts
	}
	out.Questions = nil
	if p.Questions != nil {
		out.Questions = make([]Question, len(p.Questions))
		for i, q := range p.Questions {
			out.Questions[i] = CloneQuestion(q)
		}
	}
	return out
}

// CloneQuestion returns a deep copy of q.
func CloneQuestion(q Question) Question {
	out := q
	if q.Options != nil {
		out.Options = make([]Option, len(q.Options))
		copy(out.Options, q.Options)
	}
	if q.Tags != nil {
		out.Tags = make([]string, len(q.Tags))
		copy(out.Tags, q.Tags)
	}
	return out
}
