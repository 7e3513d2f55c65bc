// Package matchmaking fornece os adapters HTTP/WebSocket do quick match.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: loop de controle, SessionPool, MatchQueue e ParticipantLink
//   - infra: implementações concretas (fila, semáforo, token bucket, Redis, host WebSocket)
//   - matchmaking (este pacote): endpoint /ws, extração de identidade, limite de
//     conexões por cliente e tradução de erros para status/mensagens
//
// Fluxo de uma conexão:
//
//  1. Passa pelo limite de tentativas de conexão por cliente (429)
//  2. Extrai o participante (header/query) e pede admissão à Authority (503 se lotado)
//  3. Faz o upgrade e traduz mensagens JSON para RequestMatch/ConfirmReady
//  4. Notificações da Authority saem pela mesma conexão, na ordem em que ocorreram
//
// Variáveis de ambiente do binário (cmd/quickmatchd) controlam o comportamento,
// como QM_MAX_PARTICIPANTS, RATE_RPS e CONNECT_RATE_RPS.
package matchmaking
