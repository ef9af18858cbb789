// Package output formats the single JSON document the CLI prints on stdout.
package output

import "encoding/json"

type Result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Error   *string     `json:"error"`
}

func Success(data interface{}) string {
	b, _ := json.Marshal(Result{Success: true, Data: data})
	return string(b)
}

// Error reports err. data may carry a partial result and can be nil.
func Error(err error, data interface{}) string {
	msg := err.Error()
	b, _ := json.Marshal(Result{Success: false, Data: data, Error: &msg})
	return string(b)
}
