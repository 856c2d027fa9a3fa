package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"
)

// QuestionHash is the content identity of a question: the md5 of its text
// followed by the text of its first option. QuestionID plays no part.
func QuestionHash(q Question) string {
	first := ""
	if len(q.Options) > 0 {
		first = q.Options[0].Text
	}
	sum := md5.Sum([]byte(q.Question + first))
	return hex.EncodeToString(sum[:])
}

// NewRecordID builds a record id of the form ca<unix>-<hash8> from the text
// the record was derived from.
func NewRecordID(text string, now time.Time) string {
	sum := md5.Sum([]byte(text))
	return fmt.Sprintf("ca%d-%s", now.Unix(), hex.EncodeToString(sum[:])[:8])
}
