package util

import (
	"auth-gateway/internal/model/requestresponse"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
)

func LogError(message string, err error) error {
	log.Printf("%s: %v", message, err)
	return fmt.Errorf("%s: %w", message, err)
}

// HandleError пишет конверт ошибки {success:false, error, message}
func HandleError(w http.ResponseWriter, errorCode, message string, statusCode int) {
	WriteJSON(w, statusCode, requestresponse.APIResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

func WriteJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Println("ошибка кодирования ответа:", err)
	}
}
