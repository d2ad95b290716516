package backend

import (
	"github.com/xeipuuv/gojsonschema"
)

type object = map[string]any

var (
	str     = object{"type": "string"}
	integer = object{"type": "integer"}
	number  = object{"type": "number"}
	instant = object{"type": "string", "format": "date-time"}

	userSchema = object{
		"type":     "object",
		"required": []string{"id", "email"},
		"properties": object{
			"id":             object{"type": "string", "minLength": 1},
			"email":          str,
			"first_name":     str,
			"last_name":      str,
			"birth_date":     str,
			"avatar_url":     str,
			"total_score":    integer,
			"games_played":   object{"type": "integer", "minimum": 0},
			"best_score":     integer,
			"current_streak": object{"type": "integer", "minimum": 0},
			"created_at":     instant,
			"updated_at":     instant,
		},
	}

	statsSchema = object{
		"type": "object",
		"properties": object{
			"total_score":    integer,
			"games_played":   object{"type": "integer", "minimum": 0},
			"best_score":     integer,
			"current_streak": object{"type": "integer", "minimum": 0},
		},
	}

	gameSchema = object{
		"type":     "object",
		"required": []string{"game_id", "difficulty", "score"},
		"properties": object{
			"game_id":         str,
			"user_id":         str,
			"difficulty":      object{"enum": []string{"basic", "intermediate", "advanced"}},
			"score":           integer,
			"correct_answers": integer,
			"wrong_answers":   integer,
			"time_taken":      integer,
			"accuracy":        number,
			"played_at":       instant,
		},
	}

	rankingSchema = object{
		"type":     "object",
		"required": []string{"user_id", "total_score"},
		"properties": object{
			"user_id":     str,
			"name":        str,
			"total_score": integer,
		},
	}
)

var (
	schemaEmpty   = envelopeSchema(nil)
	schemaUser    = envelopeSchema(object{"user": userSchema}, "user")
	schemaStats   = envelopeSchema(object{"stats": statsSchema})
	schemaAuth    = envelopeSchema(object{"token": object{"type": "string", "minLength": 1}, "user": userSchema}, "token", "user")
	schemaGames   = envelopeSchema(object{"games": object{"type": "array", "items": gameSchema}}, "games")
	schemaRanking = envelopeSchema(object{"ranking": object{"type": "array", "items": rankingSchema}}, "ranking")
)

// envelopeSchema compiles the schema of a response carrying the given payload fields.
// success is optional: a 2xx response without it counts as a success.
func envelopeSchema(fields object, required ...string) *gojsonschema.Schema {
	props := object{
		"success": object{"type": "boolean"},
		"message": str,
	}
	for k, v := range fields {
		props[k] = v
	}

	root := object{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		root["required"] = required
	}

	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(root))
	if err != nil {
		panic(err)
	}

	return s
}
