// Package application contém os casos de uso do pool de sessões e do
// matchmaking: SessionPool, MatchQueue, PendingMatch e ParticipantLink, todos
// mutados por um único loop de controle (Loop).
//
// Ele depende apenas do pacote domain e não conhece net/http nem WebSocket.
// Ex.: Authority.Connect(...) devolve um Conn; Conn.RequestMatch coloca o
// participante na fila e o handshake segue por notificações no domain.Sink.
package application
