// Package domain define contratos e tipos de domínio do pool de sessões e do
// matchmaking (fila, handshake de confirmação, tickets).
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar as regras do pool
// e da fila de detalhes de infraestrutura (host de sessão, Redis, WebSocket).
package domain
