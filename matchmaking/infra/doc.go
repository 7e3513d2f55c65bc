// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - FIFO: fila de espera sobre ring buffer (github.com/eapache/queue)
//   - ChanPool: semáforo simples para o teto de participantes conectados
//   - LimiterStore: token bucket por participante usando golang.org/x/time/rate
//   - RedisStatsStore / MemoryStatsStore: contadores de eventos do pool
//   - WSHost: sessões hospedadas em WebSocket, uma porta por slot
//   - RosterClient: consulta HTTP da lista de usuários de uma sala
package infra
