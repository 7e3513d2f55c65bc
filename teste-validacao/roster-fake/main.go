package main

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"strings"
)

// Servidor de validação local para ROSTER_API_URL: responde
// GET /getUserRooms/{roomID} com usuários fixos derivados do nome da sala.
func main() {
	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/getUserRooms/", func(w http.ResponseWriter, r *http.Request) {
		room := strings.TrimPrefix(r.URL.Path, "/getUserRooms/")
		if room == "" {
			http.Error(w, "missing room", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fakeUsers(room))
		fmt.Printf("Log: lista de usuários pedida para %s\n", room)
	})
	fmt.Printf("Servidor de roster rodando em http://localhost%s\n", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		fmt.Printf("Erro ao subir o servidor: %s\n", err)
	}
}

type user struct {
	Tag        string `json:"tagPlyer"`
	FullName   string `json:"fullname"`
	PowerForce int    `json:"powerForce"`
	ExactRatio int    `json:"exactRatio"`
	Score      int    `json:"score"`
}

func fakeUsers(room string) []user {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	seed := int(h.Sum32() % 1000)
	out := make([]user, 3)
	for i := range out {
		out[i] = user{
			Tag:        fmt.Sprintf("P%d", i+1),
			FullName:   fmt.Sprintf("Player %d", i+1),
			PowerForce: (seed + i*37) % 100,
			ExactRatio: (seed + i*11) % 100,
			Score:      seed * (i + 1) % 5000,
		}
	}
	return out
}
